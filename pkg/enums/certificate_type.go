package enums

import "fmt"

// CertificateType classifies compliance documents attached to an order.
type CertificateType string

const (
	CertificateHealth  CertificateType = "health_certificate"
	CertificateOrigin  CertificateType = "certificate_of_origin"
	CertificateCatch   CertificateType = "catch_certificate"
	CertificateCustoms CertificateType = "customs_declaration"
	CertificateColdLog CertificateType = "cold_chain_log"
	CertificateOther   CertificateType = "other"
)

var validCertificateTypes = []CertificateType{
	CertificateHealth,
	CertificateOrigin,
	CertificateCatch,
	CertificateCustoms,
	CertificateColdLog,
	CertificateOther,
}

// String implements fmt.Stringer.
func (c CertificateType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CertificateType.
func (c CertificateType) IsValid() bool {
	for _, candidate := range validCertificateTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCertificateType converts raw input into a CertificateType.
func ParseCertificateType(value string) (CertificateType, error) {
	for _, candidate := range validCertificateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid certificate type %q", value)
}
