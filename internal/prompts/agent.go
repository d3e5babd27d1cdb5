package prompts

// EmptyResponseNudge is injected when the model returns neither content
// nor tool calls. It gives the model one more chance to answer.
const EmptyResponseNudge = "Your last reply was empty. Please answer the user's message now, using the tool results above if any."

// EmptyResponseFallback is returned to the user when the model produced
// no text at all, even after the nudge or when the iteration cap is hit.
const EmptyResponseFallback = "I worked on your request but wasn't able to compose an answer. Please try rephrasing."
