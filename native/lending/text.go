package lending

import "fmt"

func (s HealthStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *HealthStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "no_active_position":
		*s = HealthNoActivePosition
	case "healthy":
		*s = HealthHealthy
	case "at_risk":
		*s = HealthAtRisk
	default:
		return fmt.Errorf("unknown health status %q", text)
	}
	return nil
}

func (s HealthSource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *HealthSource) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*s = HealthSourceNone
	case "ledger":
		*s = HealthSourceLedger
	case "local":
		*s = HealthSourceLocal
	default:
		return fmt.Errorf("unknown health source %q", text)
	}
	return nil
}

func (s MaturityStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MaturityStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "locked":
		*s = MaturityLocked
	case "matured":
		*s = MaturityMatured
	default:
		return fmt.Errorf("unknown maturity status %q", text)
	}
	return nil
}
