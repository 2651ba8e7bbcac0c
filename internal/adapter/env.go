package adapter

import (
	"fmt"
	"os"
	"regexp"
)

// credentialEnvPattern is the allowlist from §6: dynamic env lookups are
// restricted to names that look like a credential, so a malicious or
// misconfigured service descriptor cannot exfiltrate DATABASE_URL,
// LND_MACAROON, or any other unrelated secret via authCredentialEnv.
var credentialEnvPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*_(API_KEY|API_TOKEN|SECRET|TOKEN)$`)

// ErrEnvNotAllowlisted is returned when a service descriptor names a
// credential env var that does not match credentialEnvPattern.
var ErrEnvNotAllowlisted = fmt.Errorf("adapter: credential env name not allowlisted")

// ValidateCredentialEnv checks name against the allowlist without reading
// its value. Called at service/adapter registration time (§6).
func ValidateCredentialEnv(name string) error {
	if !credentialEnvPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrEnvNotAllowlisted, name)
	}
	return nil
}

// LookupCredential validates name against the allowlist and returns its
// current environment value. Called at execute time, never at registration
// time only, so a credential rotated after startup is still picked up.
func LookupCredential(name string) (string, error) {
	if err := ValidateCredentialEnv(name); err != nil {
		return "", err
	}
	val, ok := os.LookupEnv(name)
	if !ok || val == "" {
		return "", fmt.Errorf("adapter: credential env %q is not set", name)
	}
	return val, nil
}
