// Package prompts contains the model-facing text used by vendorbot.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated with the vendor's context and are
// checked by tests. Each prompt category gets its own file with an
// exported function that accepts the dynamic parts and returns the
// fully interpolated prompt string.
package prompts
