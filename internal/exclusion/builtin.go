package exclusion

import (
	"path"
	"regexp"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
)

// Built-in rule priorities by group. Higher runs first.
const (
	priorityLanguage    = 90
	priorityAccess      = 80
	priorityNonSecurity = 70
	priorityAllowlist   = 60
)

// builtinRule describes one code-expressed exclusion. A rule applies when the
// finding text mentions one of topics (and one of also, if set), mentions none
// of unless, does not exceed maxSeverity, and evidence holds for the code.
type builtinRule struct {
	id          string
	name        string
	description string
	group       Group
	topics      []string
	also        []string
	unless      []string
	maxSeverity finding.Severity
	evidence    func(f *finding.Finding, fn moveFunc, code finding.CodeContext) bool
}

var accessTopics = []string{
	"access control", "unauthorized", "unauthorised", "anyone can", "any user can",
	"permission", "privilege", "missing authorization", "missing authorisation",
	"without authorization", "only owner", "owner only", "admin",
}

var (
	capParamRe       = regexp.MustCompile(`:\s*&?\s*(?:mut\s+)?(?:\w+::)*\w*(?:Cap|Capability)\b`)
	publisherParamRe = regexp.MustCompile(`:\s*&?\s*(?:mut\s+)?(?:\w+::)*(?:Publisher|UpgradeCap)\b`)
	restrictedVisRe  = regexp.MustCompile(`public\s*\(\s*(?:package|friend)\s*\)`)
	senderAssertRe   = regexp.MustCompile(`assert!\s*\([^;]*(?:tx_context::sender\s*\(|\.sender\s*\(\s*\))[^;]*==|assert!\s*\([^;]*==[^;]*(?:tx_context::sender\s*\(|\.sender\s*\(\s*\))`)
	testAttrRe       = regexp.MustCompile(`#\[\s*(?:test|test_only|expected_failure|random_test)\b`)
	testModuleRe     = regexp.MustCompile(`#\[\s*test_only\s*\]\s*module\b`)
	testPathRe       = regexp.MustCompile(`(?i)(?:^|/)(?:tests?|mocks?)/|_tests?\.move$|(?:^|/)mock_[^/]*$|_mocks?\.move$`)
	testModuleNameRe = regexp.MustCompile(`(?i)(?:^|_)(?:test|tests|mock|mocks)(?:_|$)`)
	emitRe           = regexp.MustCompile(`event::emit\s*[<(]|\bemit\s*\(`)
	transferCallRe   = regexp.MustCompile(`transfer::(?:public_)?transfer\s*\(([^;]*)\)\s*;`)
	senderExprRe     = regexp.MustCompile(`tx_context::sender\s*\(|\.sender\s*\(\s*\)`)
	clockRe          = regexp.MustCompile(`clock::timestamp_ms\s*\(|\.timestamp_ms\s*\(`)
	splitJoinRe      = regexp.MustCompile(`(?:balance|coin)::(?:split|join)\s*\(|\.(?:split|join)\s*\(`)
	coinBalanceRe    = regexp.MustCompile(`coin::(?:into_balance|from_balance)\s*[<(]|\.into_balance\s*\(`)
	dynamicStoreRe   = regexp.MustCompile(`\b(?:dynamic_field|dynamic_object_field|table|bag|object_table|object_bag|linked_table|table_vec)::`)
)

// builtinRules is the canonical catalogue for Move/Sui packages.
var builtinRules = []builtinRule{
	// Language guarantees.
	{
		id:          "move-overflow-abort",
		name:        "Arithmetic overflow aborts",
		description: "Move integer addition and multiplication abort on overflow; shifts are not covered.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"overflow"},
		unless:      []string{"shift", "<<", "bitwise", "precision", "rounding", "truncat"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return !strings.Contains(fn.Body, "<<")
		},
	},
	{
		id:          "move-underflow-abort",
		name:        "Arithmetic underflow aborts",
		description: "Move integer subtraction aborts on underflow.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"underflow"},
		unless:      []string{"precision", "rounding"},
	},
	{
		id:          "move-no-reentrancy",
		name:        "No reentrancy in Move",
		description: "Move has no dynamic dispatch, so callbacks into the caller are impossible.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"reentran", "re-entran"},
	},
	{
		id:          "move-type-safety",
		name:        "Static type safety",
		description: "Generic type arguments are checked by the bytecode verifier.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"type confusion", "type-confusion", "fake coin type", "wrong coin type"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return !strings.Contains(fn.Body, "type_name::")
		},
	},
	{
		id:          "move-linear-resources",
		name:        "Resources cannot be duplicated",
		description: "Values without the copy ability cannot be duplicated.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"resource duplication", "duplicate the coin", "duplicate coin", "copy the coin", "copy of the coin", "double spend", "double-spend"},
		evidence: func(_ *finding.Finding, _ moveFunc, code finding.CodeContext) bool {
			return !strings.Contains(code.Code, "has copy")
		},
	},
	{
		id:          "move-no-null",
		name:        "No null references",
		description: "Move references are always valid; absent values use Option.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"null pointer", "null dereference", "nil pointer", "null reference", "dangling reference"},
	},
	{
		id:          "move-initialized-storage",
		name:        "No uninitialized storage",
		description: "Every Move value is initialized before use.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"uninitialized storage", "uninitialised storage", "uninitialized variable", "uninitialised variable", "uninitialized memory"},
	},
	{
		id:          "move-no-delegatecall",
		name:        "No delegatecall or selfdestruct",
		description: "EVM proxy and self-destruct patterns do not exist in Move.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"delegatecall", "delegate call", "selfdestruct", "self-destruct", "storage collision", "storage slot"},
	},
	{
		id:          "move-no-tx-origin",
		name:        "No tx.origin",
		description: "Move transactions have no origin distinct from the sender.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"tx.origin", "tx origin"},
	},
	{
		id:          "move-aborting-calls",
		name:        "Failed calls abort",
		description: "Move calls abort the transaction instead of returning error codes.",
		group:       GroupLanguageGuarantee,
		topics:      []string{"unchecked return", "return value not checked", "return value is not checked", "ignored return value", "ignores the return value", "unchecked call"},
		unless:      []string{"bool", "option"},
	},

	// Access-control idioms.
	{
		id:          "sui-capability-gated",
		name:        "Capability-gated function",
		description: "The function requires a capability object only its owner can pass.",
		group:       GroupAccessControl,
		topics:      accessTopics,
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && capParamRe.MatchString(fn.Params)
		},
	},
	{
		id:          "sui-package-visibility",
		name:        "Package-restricted visibility",
		description: "public(package) and public(friend) functions are not callable by other packages.",
		group:       GroupAccessControl,
		topics:      accessTopics,
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && restrictedVisRe.MatchString(fn.Modifiers) && !fn.isEntry()
		},
	},
	{
		id:          "sui-private-function",
		name:        "Private non-entry function",
		description: "A private function without entry is only reachable from its own module.",
		group:       GroupAccessControl,
		topics:      accessTopics,
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && !fn.isPublic() && !fn.isEntry()
		},
	},
	{
		id:          "sui-sender-assertion",
		name:        "Sender asserted",
		description: "The function asserts the transaction sender before acting.",
		group:       GroupAccessControl,
		topics:      accessTopics,
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && senderAssertRe.MatchString(fn.Body)
		},
	},
	{
		id:          "sui-init-once",
		name:        "Module initializer runs once",
		description: "init is called exactly once at publish and cannot be invoked afterwards.",
		group:       GroupAccessControl,
		topics:      []string{"init", "initializ", "initialis", "one-time witness", "front-run", "frontrun"},
		evidence: func(f *finding.Finding, _ moveFunc, _ finding.CodeContext) bool {
			return f.Location.Function == "init"
		},
	},
	{
		id:          "sui-publisher-gated",
		name:        "Publisher or UpgradeCap required",
		description: "Publisher and UpgradeCap are owned objects held by the deployer.",
		group:       GroupAccessControl,
		topics:      []string{"publisher", "upgradecap", "upgrade cap", "upgrade capability", "package upgrade", "upgrade"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && publisherParamRe.MatchString(fn.Params)
		},
	},

	// Non-security constructs.
	{
		id:          "test-only-code",
		name:        "Test-only code",
		description: "Functions and modules annotated for tests are not published.",
		group:       GroupNonSecurity,
		evidence: func(_ *finding.Finding, fn moveFunc, code finding.CodeContext) bool {
			if fn.Found && testAttrRe.MatchString(fn.Attributes) {
				return true
			}
			return testModuleRe.MatchString(code.Code)
		},
	},
	{
		id:          "test-or-mock-file",
		name:        "Test or mock source",
		description: "The finding is located in a test directory, test file or mock module.",
		group:       GroupNonSecurity,
		evidence: func(f *finding.Finding, _ moveFunc, code finding.CodeContext) bool {
			for _, p := range []string{code.File, f.Location.File} {
				if p != "" && testPathRe.MatchString(path.Clean(strings.ReplaceAll(p, `\`, "/"))) {
					return true
				}
			}
			return f.Location.Module != "" && testModuleNameRe.MatchString(f.Location.Module)
		},
	},
	{
		id:          "event-only",
		name:        "Event emission only",
		description: "The function only emits events and cannot mutate state.",
		group:       GroupNonSecurity,
		topics:      []string{"event", "emit"},
		unless:      []string{"steal", "drain", "withdraw", "mint"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return fn.Found && emitRe.MatchString(fn.Body) &&
				!strings.Contains(fn.Params, "&mut") &&
				!strings.Contains(fn.Body, "transfer::")
		},
	},
	{
		id:          "read-only-getter",
		name:        "Read-only accessor",
		description: "The function takes only immutable references and cannot change state.",
		group:       GroupNonSecurity,
		topics:      []string{"manipulat", "modif", "drain", "steal", "overwrite", "corrupt", "state change", "change the state"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			if !fn.Found || fn.isEntry() {
				return false
			}
			for _, s := range []string{"&mut", "TxContext", "Coin<", "Balance<"} {
				if strings.Contains(fn.Params, s) {
					return false
				}
			}
			return !strings.Contains(fn.Body, "transfer::")
		},
	},
	{
		id:          "naming-or-documentation",
		name:        "Naming or documentation style",
		description: "Style, naming and documentation remarks carry no security impact.",
		group:       GroupNonSecurity,
		topics:      []string{"naming convention", "code style", "coding style", "typo", "misspell", "documentation", "missing comment", "readability", "inconsistent naming"},
		maxSeverity: finding.SeverityLow,
	},
	{
		id:          "gas-optimization",
		name:        "Gas optimization",
		description: "Gas and dead-code remarks carry no security impact.",
		group:       GroupNonSecurity,
		topics:      []string{"gas optimi", "gas inefficien", "gas cost", "unused variable", "unused import", "unused constant", "dead code", "redundant"},
		maxSeverity: finding.SeverityLow,
	},

	// Production-pattern allowlist.
	{
		id:          "sui-clock-timestamp",
		name:        "Consensus clock",
		description: "The shared Clock is set by consensus and cannot be skewed by one validator.",
		group:       GroupAllowlist,
		topics:      []string{"timestamp", "time manipulation", "block time", "miner", "validator can manipulate"},
		evidence: func(_ *finding.Finding, fn moveFunc, code finding.CodeContext) bool {
			return clockRe.MatchString(fn.Body) || (!fn.Found && clockRe.MatchString(code.Code))
		},
	},
	{
		id:          "sui-transfer-to-sender",
		name:        "Transfer to sender",
		description: "Every transfer in the function sends objects back to the transaction sender.",
		group:       GroupAllowlist,
		topics:      []string{"arbitrary recipient", "arbitrary address", "unsafe transfer", "wrong recipient", "transfer to an arbitrary", "transfer to any"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			calls := transferCallRe.FindAllStringSubmatch(fn.Body, -1)
			if len(calls) == 0 {
				return false
			}
			for _, c := range calls {
				if !senderExprRe.MatchString(c[1]) {
					return false
				}
			}
			return true
		},
	},
	{
		id:          "sui-balance-split-join",
		name:        "Framework split and join",
		description: "balance and coin split/join conserve value and abort on insufficient funds.",
		group:       GroupAllowlist,
		topics:      []string{"split", "join", "merge"},
		also:        []string{"value conservation", "create value", "inflat", "out of thin air", "mint", "insufficient"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return splitJoinRe.MatchString(fn.Body)
		},
	},
	{
		id:          "sui-coin-balance-conversion",
		name:        "Coin and balance conversion",
		description: "coin::into_balance and coin::from_balance preserve value.",
		group:       GroupAllowlist,
		topics:      []string{"into_balance", "from_balance", "coin conversion", "balance conversion"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return coinBalanceRe.MatchString(fn.Body)
		},
	},
	{
		id:          "sui-dynamic-field-collision",
		name:        "Dynamic field key collision",
		description: "Adding an existing dynamic field or table key aborts instead of overwriting.",
		group:       GroupAllowlist,
		topics:      []string{"dynamic field", "dynamic_field", "table", "bag"},
		also:        []string{"collision", "overwrite", "clash"},
		evidence: func(_ *finding.Finding, fn moveFunc, _ finding.CodeContext) bool {
			return dynamicStoreRe.MatchString(fn.Body)
		},
	},
}

// BuiltinRules returns fresh, enabled instances of the built-in catalogue.
func BuiltinRules() []*Rule {
	rules := make([]*Rule, 0, len(builtinRules))
	for _, def := range builtinRules {
		r := NewRule(def.id, def.name, def.group, groupPriority(def.group), def.predicate())
		r.Description = def.description
		rules = append(rules, r)
	}
	return rules
}

func groupPriority(g Group) int {
	switch g {
	case GroupLanguageGuarantee:
		return priorityLanguage
	case GroupAccessControl:
		return priorityAccess
	case GroupNonSecurity:
		return priorityNonSecurity
	default:
		return priorityAllowlist
	}
}

func (def builtinRule) predicate() Predicate {
	topics := lowerAll(append([]string(nil), def.topics...))
	also := lowerAll(append([]string(nil), def.also...))
	unless := lowerAll(append([]string(nil), def.unless...))

	return func(f *finding.Finding, code finding.CodeContext) (bool, error) {
		text := f.Title + "\n" + f.Description
		if len(topics) > 0 && !containsAny(text, topics) {
			return false, nil
		}
		if len(also) > 0 && !containsAny(text, also) {
			return false, nil
		}
		if len(unless) > 0 && containsAny(text, unless) {
			return false, nil
		}
		if def.maxSeverity != "" && f.Severity.Rank() > def.maxSeverity.Rank() {
			return false, nil
		}
		if def.evidence == nil {
			return true, nil
		}
		src := code.Source(f)
		return def.evidence(f, findFunction(src, f.Location.Function), finding.CodeContext{
			Code:     src,
			File:     code.File,
			Language: code.Language,
		}), nil
	}
}
