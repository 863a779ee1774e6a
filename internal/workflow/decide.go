package workflow

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 决策点的结果取值。
const (
	DecisionPremium  = "premium"
	DecisionStandard = "standard"
	DecisionEscalate = "escalate"
	DecisionMonitor  = "monitor"
	DecisionContinue = "continue"
	DecisionUnknown  = "unknown"
)

var highValueDomains = []string{"enterprise", "corp", "inc"}

// Decision 是决策点的输出。
type Decision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Decide 按条件名选择固定的决策表：
//   - high_value：ticket_count > 3 或邮箱域名包含 enterprise/corp/inc 时为 premium，否则 standard；
//   - sla_critical：days_old > 7 或 priority == "high" 时 escalate，days_old > 3 时 monitor，否则 continue；
//   - 其它条件：返回第一个候选项，没有候选项时返回 unknown。
func Decide(condition string, data map[string]any, options []string) Decision {
	switch {
	case strings.Contains(condition, "high_value"):
		return decideHighValue(data)
	case strings.Contains(condition, "sla_critical"):
		return decideSLA(data)
	case len(options) > 0:
		return Decision{Decision: options[0], Reason: "default"}
	default:
		return Decision{Decision: DecisionUnknown, Reason: "no matching condition and no options"}
	}
}

func decideHighValue(data map[string]any) Decision {
	if count, ok := number(data["ticket_count"]); ok && count > 3 {
		return Decision{Decision: DecisionPremium, Reason: "ticket_count > 3"}
	}
	email := stringValue(data["email"])
	if email == "" {
		email = stringValue(data["customer_email"])
	}
	if domain := emailDomain(email); domain != "" {
		for _, marker := range highValueDomains {
			if strings.Contains(domain, marker) {
				return Decision{Decision: DecisionPremium, Reason: "enterprise email domain (" + marker + ")"}
			}
		}
	}
	return Decision{Decision: DecisionStandard, Reason: "no high-value signals"}
}

func decideSLA(data map[string]any) Decision {
	days, _ := number(data["days_old"])
	priority := strings.ToLower(stringValue(data["priority"]))
	switch {
	case days > 7:
		return Decision{Decision: DecisionEscalate, Reason: "days_old > 7"}
	case priority == "high":
		return Decision{Decision: DecisionEscalate, Reason: "high priority"}
	case days > 3:
		return Decision{Decision: DecisionMonitor, Reason: "days_old > 3"}
	default:
		return Decision{Decision: DecisionContinue, Reason: "within SLA"}
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
