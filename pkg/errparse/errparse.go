// Package errparse classifies Substrate, ink! and deployment error messages
// and attaches fix suggestions and documentation links.
package errparse

import "strings"

// Kind is the category of a parsed error.
type Kind string

const (
	KindCompilation Kind = "compilation"
	KindRuntime     Kind = "runtime"
	KindDeployment  Kind = "deployment"
	KindUnknown     Kind = "unknown"
)

// Parsed is a classified error message.
type Parsed struct {
	Type        Kind     `json:"type"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	RelatedDocs []string `json:"relatedDocs"`
}

const (
	docInk          = "https://use.ink/"
	docInkProject   = "https://use.ink/getting-started/creating-an-ink-project"
	docInkContracts = "https://use.ink/basics/contracts"
	docOwnership    = "https://doc.rust-lang.org/book/ch04-00-understanding-ownership.html"
	docCheckedAdd   = "https://doc.rust-lang.org/std/primitive.u32.html#method.checked_add"
	docPolkadotJS   = "https://polkadot.js.org/docs/"
)

type rule struct {
	needle      string
	suggestions []string
	doc         string
}

var compilationRules = []rule{
	{"cannot find", []string{
		"Check that every import path is correct",
		"Make sure the dependencies are declared in Cargo.toml",
	}, docInkProject},
	{"mismatched types", []string{
		"Check the data types used in the function signatures",
		"Make sure arguments match the expected parameter types",
	}, docInkContracts},
	{"borrow", []string{
		"Review references and ownership of the values involved",
		"Consider clone() where a copy is acceptable",
	}, docOwnership},
	{"ink!", []string{
		"Check that the ink! attributes are well formed",
		"Make sure the ink! version in Cargo.toml matches the syntax used",
	}, docInk},
}

var runtimeRules = []rule{
	{"insufficient balance", []string{
		"Make sure the account holds enough tokens",
		"Review the token transfer logic",
	}, docInkContracts},
	{"permission denied", []string{
		"Check the access rules of the message",
		"Make sure the caller has the required permissions",
	}, docInkContracts},
	{"overflow", []string{
		"Review the arithmetic operations",
		"Use checked_add() and friends to prevent overflow",
	}, docCheckedAdd},
}

var deploymentRules = []rule{
	{"insufficient funds", []string{
		"Make sure the deploying account has enough tokens",
		"Check the account balance on the target network",
	}, docPolkadotJS},
	{"gas limit", []string{
		"Raise the gas limit for the deployment",
		"Optimize the contract to use less gas",
	}, docInkContracts},
	{"network", []string{
		"Check the connection to the RPC endpoint",
		"Try a different network or endpoint",
	}, docPolkadotJS},
}

// Parse classifies msg. Matching is case-insensitive.
func Parse(msg string) Parsed {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "compil", "cargo", "rustc"):
		return apply(KindCompilation, msg, lower, compilationRules)
	case containsAny(lower, "runtime", "execution"):
		return apply(KindRuntime, msg, lower, runtimeRules)
	case containsAny(lower, "deploy", "instantiate"):
		return apply(KindDeployment, msg, lower, deploymentRules)
	default:
		return Parsed{
			Type:        KindUnknown,
			Message:     msg,
			Suggestions: []string{"Review the ink! documentation", "Check the code syntax"},
			RelatedDocs: []string{docInk},
		}
	}
}

func apply(kind Kind, msg, lower string, rules []rule) Parsed {
	p := Parsed{Type: kind, Message: msg, Suggestions: []string{}, RelatedDocs: []string{}}
	for _, r := range rules {
		if !strings.Contains(lower, r.needle) {
			continue
		}
		p.Suggestions = append(p.Suggestions, r.suggestions...)
		p.RelatedDocs = append(p.RelatedDocs, r.doc)
	}
	return p
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
