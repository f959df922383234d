package hashprovider

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	ocrypto "github.com/porthorian/hashpolicy/pkg/crypto"
	oerrors "github.com/porthorian/hashpolicy/pkg/errors"
	"github.com/porthorian/hashpolicy/pkg/storage"
)

type recordingPrimitive struct {
	mu        sync.Mutex
	hashCosts []int
	verified  []string
	hashErr   error
	verifyErr error
	verifyOK  bool
	counter   int
}

func (r *recordingPrimitive) Algorithm() string { return "recording" }
func (r *recordingPrimitive) MinCost() int      { return 4 }
func (r *recordingPrimitive) MaxCost() int      { return 31 }

func (r *recordingPrimitive) Hash(password string, cost int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hashErr != nil {
		return "", r.hashErr
	}
	r.hashCosts = append(r.hashCosts, cost)
	r.counter++
	return fmt.Sprintf("recording$%d$%d", cost, r.counter), nil
}

func (r *recordingPrimitive) Verify(password string, encodedHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, encodedHash)
	return r.verifyOK, r.verifyErr
}

func newBcryptProvider(t *testing.T, defaultCost int) *Provider {
	t.Helper()

	provider, err := New(Config{ProviderID: "bcrypt", DefaultCost: defaultCost}, ocrypto.NewBcrypt())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return provider
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{DefaultCost: 12}, ocrypto.NewBcrypt()); !errors.Is(err, ErrEmptyProviderID) {
		t.Fatalf("New without id error = %v, want ErrEmptyProviderID", err)
	}
	if _, err := New(Config{ProviderID: "bcrypt", DefaultCost: 12}, nil); !errors.Is(err, ErrNilPrimitive) {
		t.Fatalf("New without primitive error = %v, want ErrNilPrimitive", err)
	}
}

func TestNormalizeCostInRange(t *testing.T) {
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 12}, &recordingPrimitive{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for cost := 4; cost <= 31; cost++ {
		if got := provider.NormalizeCost(cost); got != cost {
			t.Fatalf("NormalizeCost(%d) = %d, want %d", cost, got, cost)
		}
	}
}

func TestNormalizeCostOutOfRange(t *testing.T) {
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 12}, &recordingPrimitive{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for _, cost := range []int{-1 << 31, -12, -1, 0, 1, 3, 32, 100, 1 << 30} {
		if got := provider.NormalizeCost(cost); got != 12 {
			t.Fatalf("NormalizeCost(%d) = %d, want default 12", cost, got)
		}
	}
}

func TestNormalizeCostTrustsMisconfiguredDefault(t *testing.T) {
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 99}, &recordingPrimitive{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if got := provider.NormalizeCost(0); got != 99 {
		t.Fatalf("NormalizeCost(0) = %d, want unvalidated default 99", got)
	}
}

func TestCreateCredentialUsesNormalizedCost(t *testing.T) {
	primitive := &recordingPrimitive{}
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 10}, primitive)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	credential, err := provider.CreateCredential("hunter2", 50)
	if err != nil {
		t.Fatalf("CreateCredential error: %v", err)
	}

	if credential.Algorithm != "recording" {
		t.Fatalf("Algorithm = %q, want recording", credential.Algorithm)
	}
	if credential.Cost != 10 {
		t.Fatalf("Cost = %d, want 10", credential.Cost)
	}
	if credential.Salt == nil || len(credential.Salt) != 0 {
		t.Fatalf("Salt = %v, want empty non-nil slice", credential.Salt)
	}
	if credential.Secret != "recording$10$1" {
		t.Fatalf("Secret = %q, want recording$10$1", credential.Secret)
	}
	if len(primitive.hashCosts) != 1 || primitive.hashCosts[0] != 10 {
		t.Fatalf("primitive saw costs %v, want [10]", primitive.hashCosts)
	}
}

func TestCreateCredentialPropagatesPrimitiveFailure(t *testing.T) {
	cause := errors.New("entropy source unavailable")
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 10}, &recordingPrimitive{hashErr: cause})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = provider.CreateCredential("hunter2", 10)
	if !oerrors.IsCode(err, oerrors.CodePrimitiveFailure) {
		t.Fatalf("CreateCredential error = %v, want primitive failure", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected primitive error to be wrapped")
	}
}

func TestVerifyPassesSecretWhole(t *testing.T) {
	primitive := &recordingPrimitive{verifyOK: true}
	provider, err := New(Config{ProviderID: "recording", DefaultCost: 10}, primitive)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for _, secret := range []string{"", "x", "recording$10$1 with trailing data"} {
		ok, err := provider.Verify("hunter2", storage.PasswordCredential{Algorithm: "recording", Secret: secret})
		if err != nil || !ok {
			t.Fatalf("Verify(%q) = %v, %v", secret, ok, err)
		}
	}

	want := []string{"", "x", "recording$10$1 with trailing data"}
	if len(primitive.verified) != len(want) {
		t.Fatalf("primitive saw %d secrets, want %d", len(primitive.verified), len(want))
	}
	for i := range want {
		if primitive.verified[i] != want[i] {
			t.Fatalf("primitive saw %q, want %q", primitive.verified[i], want[i])
		}
	}
}

func TestVerifyErrorTaxonomy(t *testing.T) {
	malformed := fmt.Errorf("%w: too short", ocrypto.ErrInvalidHash)
	failure := errors.New("unexpected primitive state")

	tests := []struct {
		name string
		err  error
		code oerrors.Code
	}{
		{name: "malformed", err: malformed, code: oerrors.CodeMalformedCredential},
		{name: "primitive failure", err: failure, code: oerrors.CodePrimitiveFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := New(Config{ProviderID: "recording", DefaultCost: 10}, &recordingPrimitive{verifyOK: true, verifyErr: tt.err})
			if err != nil {
				t.Fatalf("New error: %v", err)
			}

			ok, err := provider.Verify("hunter2", storage.PasswordCredential{Secret: "garbage"})
			if ok {
				t.Fatal("expected verification to report false on error")
			}
			if !oerrors.IsCode(err, tt.code) {
				t.Fatalf("Verify error = %v, want code %q", err, tt.code)
			}
			if !errors.Is(err, tt.err) {
				t.Fatal("expected primitive error to be wrapped")
			}
		})
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	provider := newBcryptProvider(t, 4)

	for _, password := range []string{"hunter2", "", "pässwörd", "with spaces  "} {
		credential, err := provider.CreateCredential(password, 4)
		if err != nil {
			t.Fatalf("CreateCredential(%q) error: %v", password, err)
		}

		ok, err := provider.Verify(password, credential)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", password, err)
		}
		if !ok {
			t.Fatalf("expected %q to verify", password)
		}

		ok, err = provider.Verify(password+"x", credential)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", password+"x", err)
		}
		if ok {
			t.Fatalf("expected %q not to verify", password+"x")
		}
	}
}

func TestCreateCredentialSaltsEachCall(t *testing.T) {
	provider := newBcryptProvider(t, 4)

	first, err := provider.CreateCredential("hunter2", 5)
	if err != nil {
		t.Fatalf("CreateCredential error: %v", err)
	}
	second, err := provider.CreateCredential("hunter2", 5)
	if err != nil {
		t.Fatalf("CreateCredential error: %v", err)
	}

	if first.Secret == second.Secret {
		t.Fatal("expected distinct secrets for identical input")
	}
	for _, credential := range []storage.PasswordCredential{first, second} {
		ok, err := provider.Verify("hunter2", credential)
		if err != nil || !ok {
			t.Fatalf("Verify = %v, %v, want true", ok, err)
		}
	}
}

func TestVerifyMalformedBcryptSecret(t *testing.T) {
	provider := newBcryptProvider(t, 4)

	_, err := provider.Verify("hunter2", storage.PasswordCredential{Algorithm: "bcrypt", Cost: 4, Secret: "$2a$04$short"})
	if !oerrors.IsCode(err, oerrors.CodeMalformedCredential) {
		t.Fatalf("Verify error = %v, want malformed credential", err)
	}
}

func TestCheckPolicyCompliance(t *testing.T) {
	provider, err := New(Config{ProviderID: "bcrypt", DefaultCost: 12}, &recordingPrimitive{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	tests := []struct {
		name       string
		policyCost int
		credential storage.PasswordCredential
		want       bool
	}{
		{name: "exact match", policyCost: 10, credential: storage.PasswordCredential{Algorithm: "bcrypt", Cost: 10}, want: true},
		{name: "unset policy matches default", policyCost: 0, credential: storage.PasswordCredential{Algorithm: "bcrypt", Cost: 12}, want: true},
		{name: "out of range policy matches default", policyCost: 64, credential: storage.PasswordCredential{Algorithm: "bcrypt", Cost: 12}, want: true},
		{name: "cost differs", policyCost: 10, credential: storage.PasswordCredential{Algorithm: "bcrypt", Cost: 11}, want: false},
		{name: "higher stored cost still differs", policyCost: 10, credential: storage.PasswordCredential{Algorithm: "bcrypt", Cost: 14}, want: false},
		{name: "algorithm differs", policyCost: 10, credential: storage.PasswordCredential{Algorithm: "pbkdf2-sha256", Cost: 10}, want: false},
		{name: "both differ", policyCost: 10, credential: storage.PasswordCredential{Algorithm: "argon2id", Cost: 3}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.CheckPolicyCompliance(tt.policyCost, tt.credential); got != tt.want {
				t.Fatalf("CheckPolicyCompliance(%d, %+v) = %v, want %v", tt.policyCost, tt.credential, got, tt.want)
			}
		})
	}
}

func TestEndToEndDefaultCost(t *testing.T) {
	provider := newBcryptProvider(t, 12)

	credential, err := provider.CreateCredential("hunter2", 0)
	if err != nil {
		t.Fatalf("CreateCredential error: %v", err)
	}
	if credential.Cost != 12 {
		t.Fatalf("Cost = %d, want 12", credential.Cost)
	}

	ok, err := provider.Verify("hunter2", credential)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected hunter2 to verify")
	}

	if !provider.CheckPolicyCompliance(12, credential) {
		t.Fatal("expected credential to comply with cost 12")
	}
	if provider.CheckPolicyCompliance(10, credential) {
		t.Fatal("expected credential not to comply with cost 10")
	}
}

func TestProviderConcurrentUse(t *testing.T) {
	provider := newBcryptProvider(t, 4)

	credential, err := provider.CreateCredential("shared", 4)
	if err != nil {
		t.Fatalf("CreateCredential error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := provider.Verify("shared", credential)
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- errors.New("expected concurrent verify to succeed")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}
