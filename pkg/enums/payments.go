package enums

import "fmt"

// GatewayKind identifies a payment gateway integration style.
type GatewayKind string

const (
	GatewayDummy   GatewayKind = "dummy"
	GatewayOffline GatewayKind = "offline"
	GatewayHosted  GatewayKind = "hosted"
)

var validGatewayKinds = []GatewayKind{GatewayDummy, GatewayOffline, GatewayHosted}

func (g GatewayKind) String() string {
	return string(g)
}

func (g GatewayKind) IsValid() bool {
	for _, candidate := range validGatewayKinds {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGatewayKind converts raw input into a GatewayKind.
func ParseGatewayKind(value string) (GatewayKind, error) {
	for _, candidate := range validGatewayKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}

// PaymentAttemptStatus tracks a single attempt against a gateway.
type PaymentAttemptStatus string

const (
	PaymentAttemptInitiated  PaymentAttemptStatus = "initiated"
	PaymentAttemptRedirected PaymentAttemptStatus = "redirected"
	PaymentAttemptSucceeded  PaymentAttemptStatus = "succeeded"
	PaymentAttemptFailed     PaymentAttemptStatus = "failed"
	PaymentAttemptCancelled  PaymentAttemptStatus = "cancelled"
)

func (s PaymentAttemptStatus) String() string {
	return string(s)
}

// IsFinal reports whether the attempt can no longer change state.
func (s PaymentAttemptStatus) IsFinal() bool {
	return s == PaymentAttemptSucceeded || s == PaymentAttemptFailed || s == PaymentAttemptCancelled
}
