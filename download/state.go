package download

//go:generate enumer -json -type JobState -trimprefix Job

// JobState is the position of a download job in its lifecycle.
//
// NOTSTARTED -> REQUESTED -> {AVAILABLE | ORDERED}
// ORDERED -> POLLING -> AVAILABLE | TIMEDOUT
// AVAILABLE -> FETCHING -> FETCHED -> EXTRACTING -> DONE
// any state -> FAILED on unrecoverable error.
type JobState int32

const (
	JobNOTSTARTED JobState = iota
	JobREQUESTED
	JobORDERED
	JobPOLLING
	JobAVAILABLE
	JobFETCHING
	JobFETCHED
	JobEXTRACTING
	JobDONE
	JobTIMEDOUT
	JobFAILED
)

// Terminal returns whether the job reached an end state.
func (s JobState) Terminal() bool {
	return s == JobDONE || s == JobTIMEDOUT || s == JobFAILED
}
