package tools

// Definition is one function tool as the realtime engine expects it.
type Definition struct {
	Type        string         `json:"type"`
	Name        Name           `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func isoString(desc string) map[string]any {
	return map[string]any{"type": "string", "format": "date-time", "description": desc}
}

// Catalog returns the fixed tool set offered to every session. The schemas
// mirror the validation tags on the argument types.
func Catalog() []Definition {
	return []Definition{
		{
			Type:        "function",
			Name:        CheckAvailability,
			Description: "Look up busy time on the business calendar between two instants.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"startRange":      isoString("Start of the search range, RFC 3339."),
					"endRange":        isoString("End of the search range, RFC 3339."),
					"durationMinutes": map[string]any{"type": "integer", "minimum": 5, "maximum": 480, "description": "Length of the appointment being considered."},
					"timezone":        map[string]any{"type": "string", "description": "IANA time zone, e.g. America/New_York."},
				},
				"required":             []string{"startRange", "endRange", "durationMinutes"},
				"additionalProperties": false,
			},
		},
		{
			Type:        "function",
			Name:        BookAppointment,
			Description: "Create an appointment on the business calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"startIso":    isoString("Appointment start, RFC 3339."),
					"endIso":      isoString("Appointment end, RFC 3339."),
					"title":       map[string]any{"type": "string", "maxLength": 200},
					"description": map[string]any{"type": "string"},
					"attendeeEmails": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string", "format": "email"},
					},
				},
				"required":             []string{"startIso", "endIso", "title"},
				"additionalProperties": false,
			},
		},
		{
			Type:        "function",
			Name:        CancelAppointment,
			Description: "Cancel an existing appointment by its calendar event id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"eventId": map[string]any{"type": "string"},
				},
				"required":             []string{"eventId"},
				"additionalProperties": false,
			},
		},
		{
			Type:        "function",
			Name:        RescheduleAppointment,
			Description: "Move an existing appointment to a new time window.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"eventId":     map[string]any{"type": "string"},
					"newStartIso": isoString("New start, RFC 3339."),
					"newEndIso":   isoString("New end, RFC 3339."),
				},
				"required":             []string{"eventId", "newStartIso", "newEndIso"},
				"additionalProperties": false,
			},
		},
	}
}
