// Package e2e drives a corpus of voicemail calls through the webhook pipeline and checks search results.
package e2e

import (
	"fmt"
	"strings"
)

// Voicemail is one call in the E2E corpus.
type Voicemail struct {
	CallID     string
	FromNumber string
	Transcript string
}

// QueryTestCase defines a query and the call that must rank near the top.
type QueryTestCase struct {
	Query          string
	ExpectedCallID string
	Description    string
}

// Corpus holds calls and query test cases for E2E tests.
type Corpus struct {
	Calls     []Voicemail
	TestCases []QueryTestCase
}

// Each topic has a signature phrase that appears only in its transcript.
var topics = []struct {
	phrase string
	text   string
}{
	{"leaking water heater", "Hi, this is about the leaking water heater in unit four, it started dripping again last night."},
	{"dentist appointment reschedule", "Calling to ask for a dentist appointment reschedule, Tuesday morning does not work anymore."},
	{"invoice number overdue", "Your invoice number eight two one is overdue, please call accounts receivable back."},
	{"package delivered wrong address", "The courier says the package delivered wrong address, it ended up across the street."},
	{"school pickup cancelled", "Quick note, school pickup cancelled today because of the snow storm."},
	{"roof inspection quote", "I am following up on the roof inspection quote you asked for last week."},
	{"lost credit card", "I need to report a lost credit card, I think I left it at the grocery store."},
	{"veterinarian vaccination reminder", "This is your veterinarian vaccination reminder, Max is due for his shots."},
	{"flight delayed connection", "My flight delayed connection in Denver, I will land around midnight instead."},
	{"internet outage modem", "We have an internet outage modem lights are blinking orange since this morning."},
	{"birthday party catering", "Calling about the birthday party catering order for Saturday, we need twenty more plates."},
	{"car battery jumpstart", "My car battery jumpstart did not work, can you send a tow truck."},
	{"prescription refill pharmacy", "Your prescription refill pharmacy order is ready for pickup at the counter."},
	{"garage door sensor", "The garage door sensor keeps reversing the door halfway down."},
	{"job interview confirmation", "This is a job interview confirmation for Thursday at two in the afternoon."},
	{"noise complaint neighbor", "I want to file a noise complaint neighbor has been playing drums after eleven."},
	{"rental lease renewal", "Please call me about the rental lease renewal, the current term ends next month."},
	{"solar panel installation", "We can schedule the solar panel installation as soon as the permit clears."},
	{"tax return documents", "Your accountant here, I still need the tax return documents from your brokerage."},
	{"gym membership cancellation", "I would like to process a gym membership cancellation effective immediately."},
	{"piano lesson schedule", "Can we move the piano lesson schedule to Wednesdays starting next week."},
	{"broken window repair", "The broken window repair guy can come by Friday between nine and noon."},
	{"library book overdue", "Reminder that your library book overdue fees are adding up, please return it."},
	{"insurance claim adjuster", "The insurance claim adjuster will visit to look at the hail damage."},
	{"wedding venue deposit", "We received the wedding venue deposit, the date is now reserved."},
}

// BuildCorpus returns one call per topic and a keyword and a paraphrased query per call.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, t := range topics {
		id := fmt.Sprintf("CAe2e%04d", i+1)
		c.Calls = append(c.Calls, Voicemail{
			CallID:     id,
			FromNumber: fmt.Sprintf("+1555010%04d", i),
			Transcript: t.text,
		})
		c.TestCases = append(c.TestCases, QueryTestCase{
			Query:          t.phrase,
			ExpectedCallID: id,
			Description:    strings.ReplaceAll(t.phrase, " ", "_"),
		})
	}
	return c
}
