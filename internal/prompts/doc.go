// Package prompts contains the prompt text Docent sends to models.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests. The
// persona can be replaced with agent.system_prompt_file; the tool list and
// promotion policy are always appended.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the interpolated text.
package prompts
