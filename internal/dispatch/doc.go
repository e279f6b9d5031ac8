// Package dispatch validates device messages and routes them by type.
//
// Every message carries a messageType discriminant:
//
//	EnvVar, CommandReply  a reading: pushed onto the device's queue under the
//	                      variable name and forwarded to the analytical sink
//	Image                 a legacy base64 fragment, handed to internal/chunk
//	ImageUpload           a file uploaded out of band, moved by Uploader
//	RecipeEvent           a recipe start/stop/end, applied by notify.Service
//
// Malformed messages are logged and dropped; Dispatch returns them as
// *Error so callers and tests can tell the categories apart. Every message
// that passes validation ends with the scheduler's due-command check for
// its device, which is how reminders fire without a ticking clock.
//
// Values strings are decoded by a ValueDecoder. The default chains a
// strict SchemaDecoder with the legacy TagScanner for devices that embed
// quoted structures inside the value.
package dispatch
