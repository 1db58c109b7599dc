// Package envelope implements the JSON wire format shared by every device,
// the back-end and the operator front-end.
//
// Each message is a flat JSON object:
//
//	{
//	    "device_id": "scanner1",
//	    "time_sent": "17-10-2026 14:03:59",
//	    "type": "status",
//	    "contents": {"code": 42, "scanned": [0, 0, 42]}
//	}
//
// Connection announcements carry their payload under "message" instead of
// "contents"; everything else uses "contents". time_sent is local wall
// clock time in DD-MM-YYYY HH:MM:SS form.
//
// Encode never evaluates or interprets the payload; it is marshalled as
// typed data. Decode rejects anything that is not a JSON object with a
// device id, a type and a payload, returning ErrMalformedEnvelope.
package envelope
