package prompts

import (
	"fmt"
	"strings"
)

// adCopyTemplate asks for ready-to-post ad copy. Format verbs:
// platform, tone, product details block, platform guidance.
const adCopyTemplate = `Write ad copy for a marketplace vendor to post on %s.
Tone: %s.

Product:
%s
%s
Respond with the ad text only. No preamble, no explanation, no quotation marks around it.`

// platformGuidance holds per-platform length and style hints.
var platformGuidance = map[string]string{
	"instagram": "Keep it under 150 words, open with a hook, end with 3-5 relevant hashtags.",
	"facebook":  "Two or three short paragraphs, a clear call to action, at most 2 hashtags.",
	"whatsapp":  "Under 60 words, friendly, suitable for a status or broadcast message. Use *bold* for the product name.",
	"twitter":   "Under 280 characters including hashtags.",
	"general":   "Under 100 words with a clear call to action.",
}

// AdPlatforms lists the platforms AdCopyPrompt has guidance for.
var AdPlatforms = []string{"instagram", "facebook", "whatsapp", "twitter", "general"}

// AdTones lists the tones offered to the model.
var AdTones = []string{"friendly", "professional", "playful", "urgent", "luxury"}

// AdCopyPrompt returns the prompt for generating ad copy. Unknown
// platforms get the general guidance; an empty tone defaults to friendly.
func AdCopyPrompt(productName, description, price, storeName, platform, tone string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	guidance, ok := platformGuidance[platform]
	if !ok {
		platform = "general"
		guidance = platformGuidance["general"]
	}
	if tone == "" {
		tone = "friendly"
	}

	var details strings.Builder
	fmt.Fprintf(&details, "- Name: %s\n", productName)
	if description != "" {
		fmt.Fprintf(&details, "- Description: %s\n", description)
	}
	if price != "" {
		fmt.Fprintf(&details, "- Price: %s\n", price)
	}
	if storeName != "" {
		fmt.Fprintf(&details, "- Sold by: %s\n", storeName)
	}

	return fmt.Sprintf(adCopyTemplate, platform, tone, details.String(), guidance)
}
