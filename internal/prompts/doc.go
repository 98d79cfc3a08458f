// Package prompts contains the model instructions and the fixed
// user-facing sentences used by the bookkeeping agent.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the final string.
package prompts
