package join

import "github.com/Strob0t/iotbridge/internal/domain"

// maxTenantIDLen keeps tenant IDs usable as DNS labels, vhost and realm names.
const maxTenantIDLen = 63

// ValidateTenantID checks that id is lowercase alphanumeric with optional hyphens
// and contains at least one letter.
func ValidateTenantID(id string) error {
	if id == "" || len(id) > maxTenantIDLen {
		return domain.Validationf("tenant_id must be lowercase alphanumeric with optional hyphens")
	}
	letters := 0
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
			letters++
		case c >= '0' && c <= '9', c == '-':
		default:
			return domain.Validationf("tenant_id must be lowercase alphanumeric with optional hyphens")
		}
	}
	if letters == 0 {
		return domain.Validationf("tenant_id must be lowercase alphanumeric with optional hyphens")
	}
	return nil
}
