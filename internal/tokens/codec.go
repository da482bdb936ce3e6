// Package tokens firma y verifica los tokens compactos del servicio.
// Cada token queda atado a un issuer y a una audience (tenant id); la clave
// de firma se deriva por audience del secreto del servidor. Un token sin
// audience cae en el modo legacy: un único secreto global compartido.
package tokens

import (
	"crypto/sha256"
	"errors"
	"io"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ClaimBranchID es el claim custom que transporta la tenancy/branch.
const ClaimBranchID = "branchId"

// Codec firma/verifica tokens. Sin estado: la validez es función pura de
// firma + expiry + audience.
type Codec struct {
	// serverSecret es el material raíz; las claves por audience se derivan
	// de acá. También es la clave del modo legacy global.
	serverSecret []byte
	defaultTTL   time.Duration
}

func NewCodec(serverSecret []byte, defaultTTL time.Duration) *Codec {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Codec{serverSecret: serverSecret, defaultTTL: defaultTTL}
}

// keyForAudience deriva la clave HMAC de una audience via HKDF-SHA256.
// audience vacía = modo legacy: el secreto raíz tal cual.
func (c *Codec) keyForAudience(audience string) ([]byte, error) {
	if audience == "" {
		return c.serverSecret, nil
	}
	r := hkdf.New(sha256.New, c.serverSecret, nil, []byte("aud:"+audience))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Decoded es el resultado de una verificación exitosa.
type Decoded struct {
	Audience  string
	Subject   string
	Claims    map[string]any
	ExpiresAt time.Time
}

// Sign emite un token HS256 con los claims estándar más los custom.
// ttl <= 0 usa el default del codec. audience vacía emite en modo legacy.
func (c *Codec) Sign(issuer, audience, subject string, custom map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now().UTC()

	claims := jwtv5.MapClaims{
		"iss": issuer,
		"sub": subject,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	for k, v := range custom {
		claims[k] = v
	}

	key, err := c.keyForAudience(audience)
	if err != nil {
		return "", err
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(key)
}

// Verify valida firma, issuer y expiry. Primero inspecciona el token SIN
// verificar firma para leer la audience y elegir la clave: sin audience se
// verifica contra el secreto global legacy.
func (c *Codec) Verify(issuer, token string) (*Decoded, error) {
	audience, err := peekAudience(token)
	if err != nil {
		return nil, ErrUnparsable
	}

	key, err := c.keyForAudience(audience)
	if err != nil {
		return nil, err
	}

	tok, err := jwtv5.Parse(token,
		func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(issuer),
		jwtv5.WithLeeway(30*time.Second),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			// La firma es válida: devolvemos el exp del propio token para
			// que el caller pueda dar un mensaje preciso.
			if exp, ok := peekExpiry(token); ok {
				return nil, &ExpiredError{ExpiresAt: exp}
			}
			return nil, &ExpiredError{}
		}
		return nil, ErrUnparsable
	}
	if !tok.Valid {
		return nil, ErrUnparsable
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrUnparsable
	}
	sub, _ := claims["sub"].(string)

	out := &Decoded{Audience: audience, Subject: sub, Claims: map[string]any{}}
	if expf, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(expf), 0)
	}
	for k, v := range claims {
		switch k {
		case "iss", "sub", "aud", "iat", "nbf", "exp":
		default:
			out.Claims[k] = v
		}
	}
	return out, nil
}

// peekAudience lee el claim aud sin validar firma.
func peekAudience(token string) (string, error) {
	var claims jwtv5.MapClaims
	parser := jwtv5.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", err
	}
	aud, _ := claims["aud"].(string)
	return aud, nil
}

func peekExpiry(token string) (time.Time, bool) {
	var claims jwtv5.MapClaims
	parser := jwtv5.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	expf, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(expf), 0), true
}
