package prompts

import (
	"fmt"
	"strings"

	"github.com/abdhe/polkadot-devkit/pkg/provider"
)

// Input truncation limits, in runes.
const (
	MaxExplainInput = 3000
	MaxDebugInput   = 2000
)

// Sampling parameters per task. topP and topK are shared.
var (
	chatConfig = provider.GenerationConfig{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxOutputTokens: 4096}

	ExplainConfig = chatConfig
	DebugConfig   = provider.GenerationConfig{Temperature: 0.5, TopP: 0.9, TopK: 40, MaxOutputTokens: 3000}
	ChatConfig    = chatConfig
)

// ContractConfig returns the sampling parameters for a contract tier.
func ContractConfig(c Complexity) provider.GenerationConfig {
	cfg := chatConfig
	switch c {
	case ComplexitySimple:
		cfg.MaxOutputTokens = 2048
	case ComplexityAdvanced:
		cfg.MaxOutputTokens = 16384
	default:
		cfg.MaxOutputTokens = 4096
	}
	return cfg
}

// Task is a fully built model request.
type Task struct {
	Name    string
	Text    string
	History []provider.Message
	Config  provider.GenerationConfig
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func fenced(lang, code string) string {
	return "```" + lang + "\n" + code + "\n```"
}

// ContractRequest describes a contract to generate.
type ContractRequest struct {
	Description  string
	ContractType string
	Complexity   Complexity
	Features     []string
	Language     Language
}

// ContractTask builds the contract generation prompt.
func ContractTask(r ContractRequest) Task {
	var b strings.Builder
	b.WriteString(systemPrompt(r.Language))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Generate a COMPLETE and WORKING %s contract of type %q.\n\n", r.Language.DisplayName(), r.ContractType)
	fmt.Fprintf(&b, "USER REQUIREMENTS:\n%s\n\n", r.Description)
	b.WriteString(tierDescription[r.Complexity])
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Target language: %s\n", r.Language.DisplayName())
	fmt.Fprintf(&b, "Complexity: %s\n", r.Complexity)
	features := "standard"
	if len(r.Features) > 0 {
		features = strings.Join(r.Features, ", ")
	}
	fmt.Fprintf(&b, "Features: %s\n\n", features)
	b.WriteString(`MANDATORY REQUIREMENTS:
1. Complete, working code (never partial)
2. Every import the code needs
3. The structure expected by the language (contract, pallet, and so on)
4. Every function fully implemented
5. Code that compiles

Output ONLY valid ` + r.Language.DisplayName() + ` code. No explanations or markdown.
Start directly with the contract or pallet structure.`)

	return Task{Name: "generate contract", Text: b.String(), Config: ContractConfig(r.Complexity)}
}

var tierDescription = map[Complexity]string{
	ComplexitySimple: `SIMPLE TIER:
- Implement the essential functions only
- Clean code that is easy to follow
- Basic safety checks`,
	ComplexityIntermediate: `INTERMEDIATE TIER:
- Implement every standard function of this contract type
- Robust error handling and events for every important action
- Complete safety checks with basic optimizations`,
	ComplexityAdvanced: `ADVANCED TIER:
- Full implementation with every standard function plus advanced ones
- Advanced gas and storage optimizations
- Reentrancy and overflow protection
- Exhaustive error handling and complete inline documentation
Do not leave any function unimplemented.`,
}

func systemPrompt(l Language) string {
	switch l {
	case LanguageRust:
		return `You are an expert Substrate developer writing pure Rust.
Your job is to produce COMPLETE, WORKING, PRODUCTION READY FRAME pallets.
Use #[frame_support::pallet] with Config, storage items, events, errors and
dispatchable calls carrying #[pallet::call_index] and #[pallet::weight].`
	case LanguageSolidity:
		return `You are an expert Ethereum and Solidity developer.
Your job is to produce COMPLETE, WORKING, PRODUCTION READY Solidity contracts
that follow the relevant ERC standards. Start with an SPDX license line and a
pragma solidity ^0.8 directive.`
	default:
		return `You are an expert Substrate and ink! smart contract developer.
Your job is to produce COMPLETE, WORKING, PRODUCTION READY ink! 5 contracts.
Start with #![cfg_attr(not(feature = "std"), no_std, no_main)] and use the
#[ink::contract] module with storage, events, errors, a constructor and
messages.`
	}
}

var focusDescription = [...]string{
	FocusGeneral:      "a general explanation of what the code does, how it works and its main components",
	FocusSecurity:     "security analysis, potential vulnerabilities, best practices and recommendations",
	FocusOptimization: "possible optimizations, performance, gas and storage efficiency, and refactorings",
	FocusDeployment:   "a deployment guide with requirements, configuration and the steps to deploy",
}

var focusRequirement = [...]string{
	FocusGeneral:      "Key concepts used",
	FocusSecurity:     "Security analysis and vulnerabilities",
	FocusOptimization: "Optimization opportunities",
	FocusDeployment:   "Deployment guide",
}

const explainPreamble = `You are an expert in Substrate and ink! smart contracts.
Explain the code COMPLETELY, CLEARLY and in an EDUCATIONAL way: summary,
storage, events, errors, constructor, every public message, the execution
flow, and common scenarios. Use headings and sections.`

// ExplainTask builds the code explanation prompt.
func ExplainTask(code string, focus Focus) Task {
	kind := DetectCodeKind(code)

	var b strings.Builder
	b.WriteString(explainPreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "You are an expert in %s. Explain this code with a focus on %s:\n\n", kind, focusDescription[focus])
	b.WriteString(fenced(kind.Fence(), Truncate(code, MaxExplainInput)))
	fmt.Fprintf(&b, `

REQUIREMENTS:
1. A clear and detailed explanation of the code
2. A description of every important component and function
3. The execution flow and logic
4. %s
5. Usage examples where relevant`, focusRequirement[focus])

	return Task{Name: "explain code", Text: b.String(), Config: ExplainConfig}
}

const debugPreamble = `You are an expert at debugging ink! and Substrate contracts.
Analyse the error and provide a COMPLETE and PRACTICAL fix: diagnosis, root
cause, a step by step solution with code before and after, prevention, and
related best practices.`

// DebugRequest describes an error to diagnose.
type DebugRequest struct {
	ErrorMessage string
	Code         string
	Context      string
	// Category is the result of a local classification, if any.
	Category string
}

// DebugTask builds the debugging prompt.
func DebugTask(r DebugRequest) Task {
	var b strings.Builder
	b.WriteString(debugPreamble)
	b.WriteString("\n\n")

	kind := CodeUnknown
	if r.Code != "" {
		kind = DetectCodeKind(r.Code)
	}
	fmt.Fprintf(&b, "You are debugging a %s.\n\nERROR:\n%s\n", kind, r.ErrorMessage)
	if r.Category != "" {
		fmt.Fprintf(&b, "\nERROR CATEGORY: %s\n", r.Category)
	}
	if r.Code != "" {
		b.WriteString("\nCODE WITH THE ERROR:\n")
		b.WriteString(fenced(kind.Fence(), Truncate(r.Code, MaxDebugInput)))
		b.WriteString("\n")
	}
	if r.Context != "" {
		fmt.Fprintf(&b, "\nCONTEXT: %s\n", r.Context)
	}
	b.WriteString(`
Provide a COMPLETE answer:
1. What the error means
2. The root cause
3. The specific fix
4. The corrected code
5. How to prevent it in the future
6. Related best practices`)

	return Task{Name: "debug error", Text: b.String(), Config: DebugConfig}
}

const chatPreamble = `You are the expert assistant of Polkadot DevKit, a platform for building on
Polkadot and Substrate. The platform offers AI contract generation in ink!,
Substrate (Rust) and Solidity at simple, intermediate and advanced tiers; a
template library and marketplace (tokens, NFTs, governance, DeFi, bridges,
staking); code explanation, debugging and test generation; deployment
guidance for Paseo, Westend and Polkadot; a learning centre; and
documentation search.

Answer precisely, include working code where it helps, and point users at the
right DevKit tool when one fits their question.`

// ChatTask builds a conversational turn. The platform preamble is sent as
// the first user turn, before the caller's history.
func ChatTask(message string, history []provider.Message) Task {
	h := make([]provider.Message, 0, len(history)+1)
	h = append(h, provider.Message{Role: provider.RoleUser, Text: chatPreamble})
	h = append(h, history...)
	return Task{Name: "chat", Text: message, History: h, Config: ChatConfig}
}

// helperTask wraps a one-shot helper prompt the same way a chat turn with no
// history is sent.
func helperTask(name, text string) Task {
	t := ChatTask(text, nil)
	t.Name = name
	return t
}

// TestsTask builds the test generation prompt.
func TestsTask(code string, lang Language) Task {
	var framework string
	switch lang {
	case LanguageSolidity:
		framework = "Solidity with Hardhat or Foundry"
	case LanguageRust:
		framework = "Rust with Substrate's mock runtime"
	default:
		framework = "ink! with ink_env::test and ink_e2e"
	}

	var b strings.Builder
	b.WriteString("You are an expert in smart contract testing. Generate COMPLETE and WORKING tests for this contract.\n\n")
	b.WriteString(fenced(lang.Fence(), Truncate(code, MaxExplainInput)))
	fmt.Fprintf(&b, "\n\nFramework: %s\n\n", framework)
	b.WriteString(`MANDATORY:
1. Constructor tests
2. Tests for every public function
3. Edge cases: limits and expected errors
4. Emitted events
5. Validation and security checks
6. Interactions between functions

Every import must be present and the tests must run. Output ONLY test code.`)

	return helperTask("generate tests", b.String())
}

// TemplateExplainTask builds the template explanation prompt.
func TemplateExplainTask(code, name string) Task {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a smart contract expert. Explain the template %q COMPLETELY and in DETAIL:\n\n", name)
	b.WriteString(fenced("rust", Truncate(code, MaxExplainInput)))
	b.WriteString(`

Cover:
1. Summary: what the template does and why
2. Structure: storage, events, functions
3. Every function with its parameters and return values
4. Use cases
5. How to customise it
6. Practical usage examples
7. Best practices
8. Security checks it includes`)

	return helperTask("explain template", b.String())
}

// TemplateVariationTask builds the template variation prompt.
func TemplateVariationTask(code, variation string) Task {
	var b strings.Builder
	b.WriteString("Based on this template, generate a variation with the following changes.\n\nOriginal template:\n")
	b.WriteString(fenced("rust", code))
	fmt.Fprintf(&b, "\n\nRequested variation: %s\n\n", variation)
	b.WriteString(`REQUIREMENTS:
- Keep the base structure of the template
- Apply the requested changes
- Keep the code compiling
- Include every function it needs

Output ONLY valid Rust code.`)

	return helperTask("template variation", b.String())
}

// TemplateSummary is one marketplace entry offered to the model.
type TemplateSummary struct {
	Title       string
	Description string
	Category    string
	Tags        []string
}

// MarketplaceSearchTask builds the marketplace search prompt.
func MarketplaceSearchTask(query string, templates []TemplateSummary) Task {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert at finding and recommending code templates.\n\nThe user is looking for: %q\n\nAvailable templates:\n", query)
	for _, t := range templates {
		fmt.Fprintf(&b, "- %s (%s): %s. Tags: %s\n", t.Title, t.Category, t.Description, strings.Join(t.Tags, ", "))
	}
	b.WriteString(`
Provide a detailed analysis:
1. What the user most likely wants, and the key terms
2. The most relevant templates ranked, with a justification for each
3. Categories and tags worth exploring
4. Alternative search terms
5. Complementary templates and combinations`)

	return helperTask("marketplace search", b.String())
}

// LearningTutorTask builds the tutor prompt. progress is a percentage.
func LearningTutorTask(question, path string, progress float64) Task {
	situation := "The user is exploring the learning centre."
	if path != "" {
		situation = fmt.Sprintf("The user is on the %q path with %g%% progress.", path, progress)
	}

	text := fmt.Sprintf(`You are an expert Polkadot and Substrate tutor. %s

Student question: %s

Provide:
1. A clear, educational answer
2. Practical examples where relevant
3. Related concepts worth knowing
4. Recommended next steps
5. Further resources if needed`, situation, question)

	return helperTask("learning tutor", text)
}

// DocSection is one documentation section offered to the model.
type DocSection struct {
	Title       string
	Description string
}

// DocsSearchTask builds the documentation search prompt.
func DocsSearchTask(query string, sections []DocSection) Task {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert in Polkadot and Substrate technical documentation.\n\nThe user is searching the docs for: %q\n\n", query)
	if len(sections) > 0 {
		b.WriteString("Available sections:\n")
		for _, s := range sections {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Provide a complete answer:
1. What the user needs and the key concepts
2. The most relevant sections and a reading order
3. A detailed explanation of the concepts
4. Complete, commented code examples
5. Links to the official documentation
6. Prerequisites and next steps
7. Implementation steps and best practices`)

	return helperTask("docs search", b.String())
}

// DeploymentTask builds the deployment guide prompt. The target network is
// taken from the question.
func DeploymentTask(code, question string) Task {
	kind := DetectCodeKind(code)
	net := DetectNetwork(question, kind)

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert at deploying smart contracts.\n\n%s code:\n", kind)
	b.WriteString(fenced(kind.Fence(), Truncate(code, MaxDebugInput)))
	fmt.Fprintf(&b, "\n\nQuestion: %s\n", question)
	if net.Known() {
		fmt.Fprintf(&b, "\n%s DETAILS:\n", strings.ToUpper(net.Name))
		fmt.Fprintf(&b, "- RPC endpoint: %s\n", net.RPC)
		fmt.Fprintf(&b, "- Symbol: %s\n", net.Symbol)
		fmt.Fprintf(&b, "- Decimals: %d\n", net.Decimals)
		if net.Production {
			b.WriteString("- Type: mainnet (production, tokens have real value)\n")
		} else {
			b.WriteString("- Type: testnet (no economic value)\n")
		}
		if net.Faucet != "" {
			fmt.Fprintf(&b, "- Faucet: %s\n", net.Faucet)
		}
		fmt.Fprintf(&b, "- Explorer: %s\n", net.Explorer)
		fmt.Fprintf(&b, "- Polkadot.js Apps: https://polkadot.js.org/apps/?rpc=%s\n", net.RPC)
	}
	fmt.Fprintf(&b, "\nTarget network: %s\n\n", net.Name)
	b.WriteString(`Provide a step by step guide:
1. Pre-deployment checks: build, tests, audits for mainnet
2. Configuration: RPC endpoints, wallets, environment, cargo-contract
3. Build, upload, instantiate and verify, with exact commands
4. Using the Contracts section of Polkadot.js Apps
5. Common problems and their fixes
6. Security and fee considerations`)
	if net.Production {
		b.WriteString("\n7. A production security checklist and a detailed cost estimate")
	}

	return helperTask("deployment assistant", b.String())
}

// AnalyticsData is the platform usage snapshot passed to the analyst.
type AnalyticsData struct {
	ContractsGenerated int
	UsersActive        int
	TimeSaved          string
	Deployments        int
}

// AnalyticsTask builds the analytics insight prompt.
func AnalyticsTask(d AnalyticsData, question string) Task {
	saved := d.TimeSaved
	if saved == "" {
		saved = "N/A"
	}

	var b strings.Builder
	b.WriteString("You are an expert data analyst for blockchain development platforms.\n\n")
	b.WriteString("Current platform data:\n")
	fmt.Fprintf(&b, "- Contracts generated: %d\n", d.ContractsGenerated)
	fmt.Fprintf(&b, "- Active users: %d\n", d.UsersActive)
	fmt.Fprintf(&b, "- Time saved: %s\n", saved)
	fmt.Fprintf(&b, "- Deployments: %d\n\n", d.Deployments)
	if question != "" {
		fmt.Fprintf(&b, "User question: %s\n\n", question)
	} else {
		b.WriteString("Analyse this data and provide valuable insights.\n\n")
	}
	b.WriteString(`Provide a professional analysis:
1. Key insights about usage and adoption
2. Trends and user behaviour
3. Specific recommendations
4. KPIs worth tracking
5. Industry comparison
6. Projections
7. A prioritised action plan`)

	return helperTask("analytics insights", b.String())
}
