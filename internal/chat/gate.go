package chat

type GateOutcome int

const (
	GateProceed GateOutcome = iota
	// GateBlock surfaces Message as the error and stops without redirecting.
	GateBlock
	// GateLoginRequired stops, records a pending send and asks for login navigation.
	GateLoginRequired
)

func (o GateOutcome) String() string {
	switch o {
	case GateProceed:
		return "proceed"
	case GateBlock:
		return "block"
	case GateLoginRequired:
		return "login_required"
	default:
		return "unknown"
	}
}

type GateDecision struct {
	Outcome GateOutcome
	Message string
}

const (
	msgAuthRequired  = "Auth required."
	msgWalletLoading = "Wallet loading."
)

var walletFallbackMessages = map[WalletStatus]string{
	WalletError:                      "Wallet error. Please try again later.",
	WalletConsentRequired:            "Wallet consent is required before sending messages.",
	WalletConsentRefused:             "Wallet consent was refused.",
	WalletPolicyOrgWalletUnavailable: "The organization wallet is unavailable under the current policy.",
}

const walletNotReadyMessage = "Wallet is not ready."

// EvaluateGate decides whether a send may start. Wallet statuses that can never
// pass are checked first; a missing session token blocks even when the wallet is ok.
func EvaluateGate(wallet WalletInfo, hasUser, hasToken bool) GateDecision {
	switch wallet.Status {
	case WalletOK:
	case WalletLoading:
		if !hasUser {
			return GateDecision{Outcome: GateLoginRequired, Message: msgAuthRequired}
		}
		return GateDecision{Outcome: GateBlock, Message: orDefault(wallet.Message, msgWalletLoading)}
	default:
		fallback, ok := walletFallbackMessages[wallet.Status]
		if !ok {
			fallback = walletNotReadyMessage
		}
		return GateDecision{Outcome: GateBlock, Message: orDefault(wallet.Message, fallback)}
	}

	if !hasToken {
		return GateDecision{Outcome: GateLoginRequired, Message: msgAuthRequired}
	}
	return GateDecision{Outcome: GateProceed}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
