// Package device defines the single-device enrollment model.
package device

import (
	"crypto/x509"
	"encoding/pem"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/Strob0t/iotbridge/internal/domain"
)

// DefaultType is used when an enrollment does not name a device type.
const DefaultType = "generic"

const maxIDLen = 128

// ValidateID checks that id is non-empty and made of letters, digits, '.',
// '_' and '-' only. Allocation keys of other kinds contain ':' and so never
// collide with a device ID.
func ValidateID(id string) error {
	if id == "" {
		return domain.Validationf("device_id is required")
	}
	if len(id) > maxIDLen {
		return domain.Validationf("device_id must be at most %d characters", maxIDLen)
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return domain.Validationf("device_id may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}

// EnrollRequest is sent by factory or simulation tooling for a new device.
type EnrollRequest struct {
	CSR         string `json:"csr"`
	DeviceName  string `json:"device_name"`
	DeviceType  string `json:"device_type,omitempty"`
	WGPublicKey string `json:"wg_public_key,omitempty"`
}

// Validate checks required fields and the CSR. It applies the default device type.
func (r *EnrollRequest) Validate() error {
	if r.CSR == "" {
		return domain.Validationf("csr is required")
	}
	if r.DeviceName == "" {
		return domain.Validationf("device_name is required")
	}
	if r.DeviceType == "" {
		r.DeviceType = DefaultType
	}
	if r.WGPublicKey != "" {
		if _, err := wgtypes.ParseKey(r.WGPublicKey); err != nil {
			return domain.Validationf("wg_public_key is not a valid WireGuard key")
		}
	}
	_, err := ParseCSR(r.CSR)
	return err
}

// EnrollResult is returned after a successful enrollment.
type EnrollResult struct {
	Certificate     string `json:"certificate"`
	CAChain         string `json:"ca_chain"`
	WireGuardIP     string `json:"wireguard_ip"`
	WireGuardConfig string `json:"wireguard_config"`
}

// ParseCSR decodes a PEM PKCS#10 request and verifies its self-signature.
func ParseCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, domain.Validationf("Invalid CSR: no CERTIFICATE REQUEST PEM block")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, domain.Validationf("Invalid CSR: %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, domain.Validationf("Invalid CSR: CSR signature is invalid")
	}
	return csr, nil
}
