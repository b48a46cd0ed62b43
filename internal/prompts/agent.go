package prompts

// ApologyReply is sent when the message could not be processed at all:
// the context could not be built or the model call failed.
const ApologyReply = "Sorry, something went wrong on our side and I couldn't handle that message. Please try again in a few minutes."

// EmptyResponseFallback is returned when the model stops without
// producing any text, including when the tool round budget runs out
// before a final answer.
const EmptyResponseFallback = "I worked on your request but couldn't put together a reply. Could you rephrase it or try again?"

// MediaMarker annotates an inbound message that carried an attachment.
// The format verb is the attachment's content type.
const MediaMarker = "[media attached: %s]"
