// Package verifycode implementa códigos single-use con expiración y límite
// de intentos, parametrizados por use-case (magic link, password reset, MFA).
package verifycode

import (
	"crypto/rand"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

// charset sin mayúsculas ni símbolos: los códigos viajan en URLs y a veces
// se tipean a mano.
const codeCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// codeLen = 6 de prefijo + 39 de sufijo.
const codeLen = 45

// maxUniformByte es el múltiplo de len(codeCharset) más grande que entra en
// un byte: 256 no es múltiplo de 36, así que un módulo directo sesgaría los
// primeros caracteres del charset. Los bytes >= al límite se descartan.
const maxUniformByte = 256 - 256%len(codeCharset)

// generateCode produce un código random uniforme sobre el charset y su
// prefijo de rate limiting.
func generateCode() (code, prefix string, err error) {
	out := make([]byte, 0, codeLen)
	buf := make([]byte, codeLen)
	for len(out) < codeLen {
		if _, err = rand.Read(buf); err != nil {
			return "", "", err
		}
		for _, b := range buf {
			if int(b) >= maxUniformByte {
				continue
			}
			out = append(out, codeCharset[int(b)%len(codeCharset)])
			if len(out) == codeLen {
				break
			}
		}
	}
	code = string(out)
	return code, code[:core.CodePrefixLen], nil
}
