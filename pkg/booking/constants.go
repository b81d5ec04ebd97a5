package booking

// Operation names reported through OperationLog.
const (
	OperationBookClass     = "book_class"
	OperationCancelBooking = "cancel_booking"
	OperationTopUpCredits  = "top_up_credits"
	OperationScheduleClass = "schedule_class"
)

// Commit paths reported through OperationLog.
const (
	CommitPathAtomic = "atomic"
	CommitPathSaga   = "saga"
)

const (
	operationStatusOK    = "ok"
	operationStatusError = "error"

	stepInsertBooking  = "insert_booking"
	stepDebitCredit    = "debit_credit"
	stepCancelBooking  = "cancel_booking"
	stepRefundCredit   = "refund_credit"
	bookingCreditCost  = Credits(1)
	defaultListLimit   = 50
	maximumListLimit   = 200
	tracerInstrumentID = "github.com/aop00-00/GRIND-PROJECT/pkg/booking"
)
