package mcp

// Parameter descriptions and error messages shared by the tools.
const (
	descDevice     = "Name of a configured device (see device_list)"
	descChunkSize  = "Commands allowed in flight before a prompt must come back (default: device or server setting)"
	descTimeoutMs  = "Milliseconds without a prompt after which one command is assumed done (default: device or server setting)"
	descHostSplice = "How many leading characters of the prompt identify a prompt line (default: 16)"
	descTranscript = "Include the session transcript in the result (default: true)"

	errDeviceRequired = "device is required"
	errNegativeParam  = "%s must not be negative"

	// maxTranscript bounds the transcript returned to the client.
	maxTranscript = 256 * 1024
)
