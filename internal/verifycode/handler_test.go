package verifycode_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/verifycode"
)

// fakeCodeRepo implementa core.VerificationCodeRepository en memoria, con
// la misma semántica de filas afectadas que el adapter pg.
type fakeCodeRepo struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*core.VerificationCode
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: map[uuid.UUID]*core.VerificationCode{}}
}

func (f *fakeCodeRepo) CreateVerificationCode(_ context.Context, vc *core.VerificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *vc
	f.codes[vc.ID] = &cp
	return nil
}

func (f *fakeCodeRepo) ListVerificationCodes(_ context.Context, tenantID uuid.UUID, codeType string, now time.Time) ([]core.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.VerificationCode
	for _, vc := range f.codes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.UsedAt == nil && vc.ExpiresAt.After(now) {
			out = append(out, *vc)
		}
	}
	return out, nil
}

func (f *fakeCodeRepo) IncrementAttemptsByPrefix(_ context.Context, tenantID uuid.UUID, codeType, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, vc := range f.codes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.Prefix == prefix &&
			vc.UsedAt == nil && vc.ExpiresAt.After(time.Now()) {
			vc.AttemptCount++
			n++
		}
	}
	return n, nil
}

func (f *fakeCodeRepo) GetVerificationCode(_ context.Context, tenantID uuid.UUID, codeType, code string) (*core.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vc := range f.codes {
		if vc.TenantID == tenantID && vc.Type == codeType && vc.Code == code {
			cp := *vc
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeCodeRepo) MarkVerificationCodeUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.codes[id]
	if !ok || vc.UsedAt != nil {
		return false, nil
	}
	vc.UsedAt = &at
	return true, nil
}

func (f *fakeCodeRepo) DeleteVerificationCode(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.codes[id]
	if !ok || vc.TenantID != tenantID {
		return false, nil
	}
	delete(f.codes, id)
	return true, nil
}

func testTenant() *core.Tenant {
	return &core.Tenant{ID: uuid.New(), AllowLocalhost: true}
}

func newHandler(repo *fakeCodeRepo) *verifycode.Handler {
	return verifycode.NewHandler(verifycode.UseCase{Type: "magic-link", TTL: time.Hour}, repo)
}

func mustCreate(t *testing.T, h *verifycode.Handler, tn *core.Tenant) *core.VerificationCode {
	t.Helper()
	vc, err := h.CreateCode(context.Background(), verifycode.CreateCodeInput{
		Tenant:  tn,
		Payload: json.RawMessage(`{"email":"a@b.c"}`),
	})
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	return vc
}

func TestPost_ConsumesExactlyOnce(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()
	vc := mustCreate(t, h, tn)

	got, err := h.Post(context.Background(), tn.ID, vc.Code)
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	if got.UsedAt == nil {
		t.Fatal("expected used_at set")
	}

	// Segunda redención del mismo código: already-used, nunca éxito.
	if _, err := h.Post(context.Background(), tn.ID, vc.Code); !errors.Is(err, verifycode.ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed, got %v", err)
	}
}

func TestPost_ConcurrentRedemption_OneWinner(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()
	vc := mustCreate(t, h, tn)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.Post(context.Background(), tn.ID, vc.Code)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, verifycode.ErrCodeAlreadyUsed):
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one racer must win, got %d", wins)
	}
}

func TestLookup_PrefixAttemptsPenalizeSiblings(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()
	vc := mustCreate(t, h, tn)

	// Sufijo incorrecto con prefijo correcto: not-found, pero cada intento
	// suma en el código legítimo que comparte prefijo.
	wrong := vc.Code[:core.CodePrefixLen] + strings.Repeat("x", len(vc.Code)-core.CodePrefixLen)
	for i := 0; i < verifycode.MaxAttemptsPerCode; i++ {
		if err := h.Check(context.Background(), tn.ID, wrong); !errors.Is(err, verifycode.ErrCodeNotFound) {
			t.Fatalf("attempt %d: expected ErrCodeNotFound, got %v", i, err)
		}
	}

	// El código correcto quedó quemado: max-attempts aunque el valor sea válido.
	if _, err := h.Post(context.Background(), tn.ID, vc.Code); !errors.Is(err, verifycode.ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
}

func TestLookup_PrefixAttemptsSkipConsumedCodes(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()
	vc := mustCreate(t, h, tn)

	if _, err := h.Post(context.Background(), tn.ID, vc.Code); err != nil {
		t.Fatalf("post: %v", err)
	}
	repo.mu.Lock()
	before := repo.codes[vc.ID].AttemptCount
	repo.mu.Unlock()

	// El barrido por prefijo castiga solo códigos vivos: uno ya canjeado no
	// acumula intentos por más que compartan prefijo.
	wrong := vc.Code[:core.CodePrefixLen] + strings.Repeat("x", len(vc.Code)-core.CodePrefixLen)
	for i := 0; i < verifycode.MaxAttemptsPerCode+1; i++ {
		if err := h.Check(context.Background(), tn.ID, wrong); !errors.Is(err, verifycode.ErrCodeNotFound) {
			t.Fatalf("attempt %d: expected ErrCodeNotFound, got %v", i, err)
		}
	}

	repo.mu.Lock()
	after := repo.codes[vc.ID].AttemptCount
	repo.mu.Unlock()
	if after != before {
		t.Fatalf("consumed code attempts changed: before=%d after=%d", before, after)
	}

	// Y al reintentar el código canjeado la respuesta sigue siendo
	// already-used, no max-attempts.
	if _, err := h.Post(context.Background(), tn.ID, vc.Code); !errors.Is(err, verifycode.ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed, got %v", err)
	}
}

func TestLookup_ErrorPriority(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()

	// Código inexistente: not-found incluso con prefijo desconocido.
	if err := h.Check(context.Background(), tn.ID, strings.Repeat("z", 45)); !errors.Is(err, verifycode.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if err := h.Check(context.Background(), tn.ID, "tiny"); !errors.Is(err, verifycode.ErrCodeNotFound) {
		t.Fatalf("short code: expected ErrCodeNotFound, got %v", err)
	}

	// Expirado gana a already-used y a max-attempts.
	vc := mustCreate(t, h, tn)
	repo.mu.Lock()
	stored := repo.codes[vc.ID]
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	stored.AttemptCount = verifycode.MaxAttemptsPerCode + 5
	now := time.Now()
	stored.UsedAt = &now
	repo.mu.Unlock()

	if err := h.Check(context.Background(), tn.ID, vc.Code); !errors.Is(err, verifycode.ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
}

func TestCreateCode_CallbackAllowList(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)

	tn := &core.Tenant{
		ID:      uuid.New(),
		Domains: []core.TrustedDomain{{BaseURL: "https://app.example.com", HandlerPath: "/auth"}},
	}

	bad := "https://evil.example.com/auth"
	_, err := h.CreateCode(context.Background(), verifycode.CreateCodeInput{Tenant: tn, CallbackURL: &bad})
	if !errors.Is(err, verifycode.ErrCallbackNotAllowed) {
		t.Fatalf("expected ErrCallbackNotAllowed, got %v", err)
	}

	good := "https://app.example.com/auth"
	vc, err := h.CreateCode(context.Background(), verifycode.CreateCodeInput{Tenant: tn, CallbackURL: &good})
	if err != nil {
		t.Fatalf("create with valid callback: %v", err)
	}

	link, ok := verifycode.Link(vc)
	if !ok {
		t.Fatal("expected link")
	}
	u, err := url.Parse(link)
	if err != nil || u.Query().Get("code") != vc.Code {
		t.Fatalf("link must carry code param, got %q", link)
	}
}

func TestSendCode_DeliveryFailurePropagates(t *testing.T) {
	repo := newFakeCodeRepo()
	boom := errors.New("smtp down")
	h := verifycode.NewHandler(verifycode.UseCase{
		Type: "magic-link",
		TTL:  time.Hour,
		Deliver: func(context.Context, *core.VerificationCode, string) error {
			return boom
		},
	}, repo)

	_, err := h.SendCode(context.Background(), verifycode.CreateCodeInput{Tenant: testTenant()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestRevokeCode_HardDelete(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()
	vc := mustCreate(t, h, tn)

	if err := h.RevokeCode(context.Background(), tn.ID, vc.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := h.RevokeCode(context.Background(), tn.ID, vc.ID); !errors.Is(err, verifycode.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound after delete, got %v", err)
	}
	if err := h.Check(context.Background(), tn.ID, vc.Code); !errors.Is(err, verifycode.ErrCodeNotFound) {
		t.Fatalf("revoked code must be gone, got %v", err)
	}
}

func TestListCodes_FilterAndLiveness(t *testing.T) {
	repo := newFakeCodeRepo()
	h := newHandler(repo)
	tn := testTenant()

	a := mustCreate(t, h, tn)
	b := mustCreate(t, h, tn)
	_ = b

	// Consumir a: deja de estar vivo.
	if _, err := h.Post(context.Background(), tn.ID, a.Code); err != nil {
		t.Fatalf("post: %v", err)
	}

	live, err := h.ListCodes(context.Background(), tn.ID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live code, got %d", len(live))
	}

	none, err := h.ListCodes(context.Background(), tn.ID, func(json.RawMessage) bool { return false })
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("filter should drop all, got %d", len(none))
	}
}
