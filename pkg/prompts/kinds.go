// Package prompts turns task parameters into model instructions. Free-text
// request fields are mapped onto closed kinds once, at the boundary.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

// Language is the target contract language.
type Language int

const (
	LanguageInk Language = iota
	LanguageRust
	LanguageSolidity
)

// ParseLanguage maps a request value onto a Language. Unknown or empty
// values select ink!.
func ParseLanguage(s string) Language {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(v, "solidity"):
		return LanguageSolidity
	case strings.Contains(v, "rust") && !strings.Contains(v, "ink"),
		strings.Contains(v, "substrate"), strings.Contains(v, "pallet"):
		return LanguageRust
	default:
		return LanguageInk
	}
}

func (l Language) String() string {
	switch l {
	case LanguageRust:
		return "rust"
	case LanguageSolidity:
		return "solidity"
	default:
		return "ink"
	}
}

// DisplayName is the human name used inside prompts.
func (l Language) DisplayName() string {
	switch l {
	case LanguageRust:
		return "Substrate (Rust)"
	case LanguageSolidity:
		return "Solidity"
	default:
		return "ink!"
	}
}

// Fence is the markdown code fence tag for the language.
func (l Language) Fence() string {
	if l == LanguageSolidity {
		return "solidity"
	}
	return "rust"
}

// Complexity is the requested contract tier.
type Complexity int

const (
	ComplexityIntermediate Complexity = iota
	ComplexitySimple
	ComplexityAdvanced
)

// ParseComplexity maps a request value onto a tier. Unknown or empty values
// select the intermediate tier.
func ParseComplexity(s string) Complexity {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(v, "simple"), v == "beginner", v == "basic":
		return ComplexitySimple
	case strings.Contains(v, "advanced"), strings.Contains(v, "avanzado"):
		return ComplexityAdvanced
	default:
		return ComplexityIntermediate
	}
}

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityAdvanced:
		return "advanced"
	default:
		return "intermediate"
	}
}

// Focus is the angle of a code explanation.
type Focus int

const (
	FocusGeneral Focus = iota
	FocusSecurity
	FocusOptimization
	FocusDeployment
)

// ParseFocus accepts the four focus names; empty selects general.
func ParseFocus(s string) (Focus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general":
		return FocusGeneral, nil
	case "security":
		return FocusSecurity, nil
	case "optimization":
		return FocusOptimization, nil
	case "deployment":
		return FocusDeployment, nil
	default:
		return FocusGeneral, fmt.Errorf("unknown focus %q (want general, security, optimization or deployment)", s)
	}
}

func (f Focus) String() string {
	return [...]string{"general", "security", "optimization", "deployment"}[f]
}

// CodeKind is what a submitted piece of code looks like.
type CodeKind int

const (
	CodeUnknown CodeKind = iota
	CodeInk
	CodeSolidity
	CodeSubstrate
)

var (
	inkMarker       = regexp.MustCompile(`#\[ink[:(\]]|\bink::|\bink_(lang|env|storage|prelude)\b|\buse ink\b`)
	solidityMarker  = regexp.MustCompile(`\bpragma\s+solidity\b|(?m)^\s*(abstract\s+)?contract\s+\w+`)
	substrateMarker = regexp.MustCompile(`#\[pallet::|\bframe_support\b|\bframe_system\b|\bpallet\b`)
)

// DetectCodeKind inspects source code. ink! wins over Substrate when both
// match, since ink! contracts are also Rust.
func DetectCodeKind(code string) CodeKind {
	switch {
	case inkMarker.MatchString(code):
		return CodeInk
	case solidityMarker.MatchString(code):
		return CodeSolidity
	case substrateMarker.MatchString(code):
		return CodeSubstrate
	default:
		return CodeUnknown
	}
}

func (k CodeKind) String() string {
	switch k {
	case CodeInk:
		return "ink!"
	case CodeSolidity:
		return "Solidity"
	case CodeSubstrate:
		return "Substrate (Rust)"
	default:
		return "smart contract"
	}
}

// Fence is the markdown code fence tag for the kind.
func (k CodeKind) Fence() string {
	if k == CodeSolidity {
		return "solidity"
	}
	return "rust"
}

// Network is a deployment target.
type Network struct {
	Name       string
	RPC        string
	Symbol     string
	Decimals   int
	Explorer   string
	Faucet     string
	Production bool
}

var (
	NetworkPaseo = Network{
		Name: "Paseo Testnet", RPC: "wss://paseo.rpc.amforc.com", Symbol: "PAS", Decimals: 10,
		Explorer: "https://paseo.subscan.io/", Faucet: "https://faucet.polkadot.io/",
	}
	NetworkWestend = Network{
		Name: "Westend Testnet", RPC: "wss://westend-rpc.polkadot.io", Symbol: "WND", Decimals: 12,
		Explorer: "https://westend.subscan.io/", Faucet: "https://faucet.polkadot.io/",
	}
	NetworkPolkadot = Network{
		Name: "Polkadot Mainnet", RPC: "wss://rpc.polkadot.io", Symbol: "DOT", Decimals: 10,
		Explorer: "https://polkadot.subscan.io/", Production: true,
	}
	// NetworkEVM covers Solidity targets when no Polkadot network is named.
	NetworkEVM = Network{Name: "an EVM network (Ethereum, Polygon, or similar)"}
	// NetworkDefault is used when nothing in the question names a network.
	NetworkDefault = Network{Name: "Polkadot / Paseo Testnet"}
)

// Known reports whether the network carries endpoint details.
func (n Network) Known() bool { return n.RPC != "" }

// DetectNetwork picks the deployment target from the user's question.
func DetectNetwork(question string, kind CodeKind) Network {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "paseo"):
		return NetworkPaseo
	case strings.Contains(q, "westend"):
		return NetworkWestend
	case strings.Contains(q, "mainnet"):
		return NetworkPolkadot
	case kind == CodeSolidity:
		return NetworkEVM
	default:
		return NetworkDefault
	}
}
