package extraction

// systemPrompt fixes the output contract the parser relies on.
const systemPrompt = `You are an event extraction assistant. Extract all events from the provided text.
For each event, identify:
- name: The title or name of the event
- description: Any additional details about the event
- start: The start date and time (in ISO 8601 format)
- end: The end date and time (in ISO 8601 format)
Return a JSON array of events, where each event is an object with exactly these fields.
If a field cannot be determined, use null.
If there are multiple events, create separate objects for each one.
Return only the JSON array, without markdown code fences or commentary.
Example format:
[{"name": "Team Meeting", "description": "Weekly sync", "start": "2024-03-20T10:00:00Z", "end": "2024-03-20T11:00:00Z"},
{"name": "Project Review", "description": "Q1 review", "start": "2024-03-21T14:00:00Z", "end": "2024-03-21T15:30:00Z"}]`

// buildMessages pairs the fixed instruction with the transcript.
func buildMessages(transcript string) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: transcript},
	}
}
