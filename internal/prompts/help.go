package prompts

import (
	"sort"
	"strings"
)

// helpTopics is the canned help text returned by the get_help tool.
var helpTopics = map[string]string{
	"getting_started": `Welcome! I can help you run your store from WhatsApp.
1. Verify your account: send your store ID or the email on your store.
2. Ask me things like "show my products" or "any new orders?"
3. Say "help products" or "help orders" to learn more.`,

	"verification": `To link this WhatsApp number to your store, send me your store ID (a number from your vendor dashboard) or the email address registered on your store. Once verified, I will remember it for this number.`,

	"products": `Products:
- "Show my products" lists them (you can filter by draft, pending or published).
- "Add a product called Blue Mug for 12.50" creates a draft.
- "Change the price of product 42 to 10" updates it.
- "Publish product 42" makes it visible in the shop.
- "Delete product 42" moves it to the trash.`,

	"orders": `Orders:
- "Any new orders?" lists orders that are processing.
- "Show order 1001" gives the details.
- "Mark order 1001 as completed" updates its status.
Statuses: pending, processing, on-hold, completed, cancelled, refunded, failed.`,

	"events": `Events:
Tell me the title, start and end date and time, and optionally a description and venue. Example: "Create an event Pottery Fair on 2026-05-02 10:00 until 16:00".`,

	"marketing": `Marketing:
- "Write an Instagram post for product 42" creates ad copy.
- "Give me marketing tips" shares ideas to grow your sales.`,

	"insights": `Insights:
- "How are sales?" gives a sales summary.
- "What should I improve?" gives recommendations.
- "Are my prices right?" gives pricing advice.
- "Weekly report" compares this week with last week.`,
}

// HelpTopics returns the topic names accepted by HelpText, sorted.
func HelpTopics() []string {
	topics := make([]string, 0, len(helpTopics))
	for k := range helpTopics {
		topics = append(topics, k)
	}
	sort.Strings(topics)
	return topics
}

// HelpText returns the help text for topic. An empty or unknown topic
// returns the getting started text followed by the topic list.
func HelpText(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if text, ok := helpTopics[topic]; ok {
		return text
	}
	return helpTopics["getting_started"] + "\n\nHelp topics: " + strings.Join(HelpTopics(), ", ")
}
