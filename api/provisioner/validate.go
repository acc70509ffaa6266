package provisioner

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/miekg/dns"
)

// FieldError identifies the first field of a command that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// provisionFields are checked in this order; tls is checked last.
var provisionFields = []string{"token", "appServerUrl", "fqdn", "revision", "boxVersionsUrl"}

// ValidateProvision checks that every provision field is present. Values are
// not interpreted apart from fqdn, which must be a domain name. Validation
// stops at the first violated field.
func ValidateProvision(fields map[string]json.RawMessage) *FieldError {
	for _, name := range provisionFields {
		if fieldErr := requirePresent(fields, name); fieldErr != nil {
			return fieldErr
		}
		if name == "fqdn" {
			if fieldErr := requireDomainName(fields[name]); fieldErr != nil {
				return fieldErr
			}
		}
	}

	// tls only needs the key: null means no certificate yet.
	if _, ok := fields["tls"]; !ok {
		return &FieldError{Field: "tls", Message: "tls is required (use null when there is no certificate)"}
	}

	return nil
}

// ValidateRestore checks the provision fields followed by restoreUrl.
func ValidateRestore(fields map[string]json.RawMessage) *FieldError {
	if fieldErr := ValidateProvision(fields); fieldErr != nil {
		return fieldErr
	}

	return requirePresent(fields, "restoreUrl")
}

// requirePresent treats an absent key and a JSON null alike.
func requirePresent(fields map[string]json.RawMessage, name string) *FieldError {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return &FieldError{Field: name, Message: fmt.Sprintf("%s is required", name)}
	}
	return nil
}

func requireDomainName(raw json.RawMessage) *FieldError {
	var fqdn string
	if err := json.Unmarshal(raw, &fqdn); err == nil {
		if _, ok := dns.IsDomainName(fqdn); ok && fqdn != "" {
			return nil
		}
	}
	return &FieldError{Field: "fqdn", Message: "fqdn must be a valid domain name"}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
