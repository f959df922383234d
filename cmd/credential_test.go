package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/porthorian/hashpolicy"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv(hashpolicy.EnvConfigPath, "")
	t.Setenv(hashpolicy.EnvDatabaseURL, "")
}

func TestHashThenVerify(t *testing.T) {
	clearConfigEnv(t)

	hashCmd := newHashCommand()
	var out bytes.Buffer
	hashCmd.SetOut(&out)
	hashCmd.SetErr(&bytes.Buffer{})
	hashCmd.SetIn(strings.NewReader("hunter2\n"))
	hashCmd.SetArgs([]string{"--algorithm", "bcrypt", "--cost", "4"})
	if err := hashCmd.Execute(); err != nil {
		t.Fatalf("hash error: %v", err)
	}

	secret := strings.TrimSpace(out.String())
	if !strings.HasPrefix(secret, "$2a$04$") {
		t.Fatalf("hash output = %q, want bcrypt cost 4", secret)
	}

	verifyCmd := newVerifyCommand()
	out.Reset()
	verifyCmd.SetOut(&out)
	verifyCmd.SetErr(&bytes.Buffer{})
	verifyCmd.SetIn(strings.NewReader("hunter2\n"))
	verifyCmd.SetArgs([]string{secret})
	if err := verifyCmd.Execute(); err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "match" {
		t.Fatalf("verify output = %q", out.String())
	}

	verifyCmd = newVerifyCommand()
	verifyCmd.SetOut(&bytes.Buffer{})
	verifyCmd.SetErr(&bytes.Buffer{})
	verifyCmd.SetIn(strings.NewReader("hunter3"))
	verifyCmd.SetArgs([]string{secret})
	if err := verifyCmd.Execute(); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("verify with wrong password error = %v", err)
	}
}

func TestHashWarnsOnOutOfRangeCost(t *testing.T) {
	clearConfigEnv(t)

	hashCmd := newHashCommand()
	var out, errOut bytes.Buffer
	hashCmd.SetOut(&out)
	hashCmd.SetErr(&errOut)
	hashCmd.SetIn(strings.NewReader("hunter2\n"))
	hashCmd.SetArgs([]string{"--algorithm", "pbkdf2-sha256", "--cost", "5"})
	if err := hashCmd.Execute(); err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !strings.HasPrefix(out.String(), "pbkdf2$sha256$600000$") {
		t.Fatalf("hash output = %q, want default iterations", out.String())
	}
	if !strings.Contains(errOut.String(), "outside the pbkdf2-sha256 bounds") {
		t.Fatalf("expected substitution warning, got %q", errOut.String())
	}
}

func TestVerifyMalformedSecret(t *testing.T) {
	clearConfigEnv(t)

	verifyCmd := newVerifyCommand()
	verifyCmd.SetOut(&bytes.Buffer{})
	verifyCmd.SetErr(&bytes.Buffer{})
	verifyCmd.SetIn(strings.NewReader("hunter2\n"))
	verifyCmd.SetArgs([]string{"not-a-hash"})

	err := verifyCmd.Execute()
	if err == nil || strings.Contains(err.Error(), "does not match") {
		t.Fatalf("verify malformed error = %v, want malformed credential error", err)
	}
}

func TestHashRejectsUnknownAlgorithm(t *testing.T) {
	clearConfigEnv(t)

	hashCmd := newHashCommand()
	hashCmd.SetOut(&bytes.Buffer{})
	hashCmd.SetErr(&bytes.Buffer{})
	hashCmd.SetIn(strings.NewReader("x\n"))
	hashCmd.SetArgs([]string{"--algorithm", "md5"})

	err := hashCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), `unknown algorithm "md5"`) {
		t.Fatalf("hash error = %v", err)
	}
}

func TestReadPasswordKeepsSpaces(t *testing.T) {
	cmd := newHashCommand()
	cmd.SetIn(strings.NewReader("  spaced pass  \r\nignored\n"))

	got, err := readPassword(cmd, "")
	if err != nil {
		t.Fatalf("readPassword error: %v", err)
	}
	if got != "  spaced pass  " {
		t.Fatalf("readPassword = %q", got)
	}

	cmd.SetIn(strings.NewReader(""))
	if _, err := readPassword(cmd, ""); err == nil {
		t.Fatal("expected error on empty input")
	}
}
