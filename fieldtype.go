package pdx

import (
	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/internal/metrics"
)

// FieldType is the wire type of a PDX field.
type FieldType = common.FieldType

const (
	Boolean           = common.Boolean
	Byte              = common.Byte
	Char              = common.Char
	Short             = common.Short
	Int               = common.Int
	Long              = common.Long
	Float             = common.Float
	Double            = common.Double
	Date              = common.Date
	String            = common.String
	Object            = common.Object
	BooleanArray      = common.BooleanArray
	CharArray         = common.CharArray
	ByteArray         = common.ByteArray
	ShortArray        = common.ShortArray
	IntArray          = common.IntArray
	LongArray         = common.LongArray
	FloatArray        = common.FloatArray
	DoubleArray       = common.DoubleArray
	StringArray       = common.StringArray
	ObjectArray       = common.ObjectArray
	ArrayOfByteArrays = common.ArrayOfByteArrays
)

// Logger is the logging interface accepted by WithLogger.
type Logger = logging.Logger

// MetricsRecorder is the event sink accepted by WithMetrics.
type MetricsRecorder = metrics.Recorder
