package session

// Event payload decoders. Payloads arrive loosely typed off the wire and in
// more than one shape (session fields at the top level, or nested under a
// "session" key), so each decoder extracts only the fields the reconciler
// needs and fails soft: an unparseable payload decodes to nil and the event
// is ignored.

// asMap narrows a decoded JSON value to an object
func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// stringField reads a string field from a decoded JSON object, "" when absent
func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// decodeSnapshot builds a Snapshot from a session object. Returns nil when the
// value is not an object or carries no session id.
func decodeSnapshot(v interface{}) *Snapshot {
	m := asMap(v)
	if m == nil {
		return nil
	}

	id := stringField(m, "session_id")
	if id == "" {
		return nil
	}

	snap := &Snapshot{
		SessionID: id,
		Status:    stringField(m, "status"),
		Mode:      stringField(m, "mode"),
		Payload:   v,
	}

	if redeem := asMap(m["redeem"]); redeem != nil {
		snap.Redeem = &RedeemState{
			RewardID:    stringField(redeem, "reward_id"),
			VoucherCode: stringField(redeem, "voucher_code"),
		}
	}

	return snap
}

// decodeSessionEvent handles the session_created / session_updated shapes:
// the snapshot may sit at the top level or nested under "session".
func decodeSessionEvent(payload interface{}) *Snapshot {
	m := asMap(payload)
	if m == nil {
		return nil
	}
	if nested := asMap(m["session"]); nested != nil {
		return decodeSnapshot(nested)
	}
	return decodeSnapshot(payload)
}

// decodeCurrentSession handles the current_session bootstrap shape:
// {session: <snapshot>|null}. The second return reports whether the payload
// actually carried a "session" key; without it the event is ignored rather
// than treated as a clear.
func decodeCurrentSession(payload interface{}) (*Snapshot, bool) {
	m := asMap(payload)
	if m == nil {
		return nil, false
	}
	v, ok := m["session"]
	if !ok {
		return nil, false
	}
	return decodeSnapshot(v), true
}

// decodeTerminalState extracts terminal metadata from a terminal_state event
func decodeTerminalState(payload interface{}) *TerminalMeta {
	m := asMap(payload)
	if m == nil {
		return nil
	}
	return &TerminalMeta{
		MerchantID: stringField(m, "merchant_id"),
		TerminalID: stringField(m, "terminal_id"),
		Status:     stringField(m, "status"),
	}
}

// decodeSessionClosed extracts the closed session id and optional final
// status, both of which may be nested under "session".
func decodeSessionClosed(payload interface{}) (sessionID, status string) {
	m := asMap(payload)
	if m == nil {
		return "", ""
	}

	sessionID = stringField(m, "session_id")
	status = stringField(m, "status")

	if nested := asMap(m["session"]); nested != nil {
		if sessionID == "" {
			sessionID = stringField(nested, "session_id")
		}
		if status == "" {
			status = stringField(nested, "status")
		}
	}

	return sessionID, status
}
