package protocol

// Vee machine service and characteristic UUIDs. Every characteristic lives
// under the Nordic UART service.
const (
	ServiceUUIDNordicUART = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CharUUIDControl       = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	CharUUIDMonitor       = "90e991a6-c548-44ed-969b-eb541014eae3"
	CharUUIDRepNotify     = "8308f2a6-0875-4a94-a86f-5c5c5e1b068a"
)

// DefaultNamePrefix is the advertised name prefix of supported machines.
const DefaultNamePrefix = "Vee"

// CharacteristicMode defines how we interact with a characteristic
type CharacteristicMode int

const (
	ModeNotify CharacteristicMode = iota // Subscribe to notifications
	ModeRead                             // Polled read
	ModeWrite                            // Write commands (with response)
)

func (m CharacteristicMode) String() string {
	switch m {
	case ModeNotify:
		return "notify"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// DataStreamID uniquely identifies a data stream
type DataStreamID string

const (
	StreamControl   DataStreamID = "control"
	StreamMonitor   DataStreamID = "monitor"
	StreamRepNotify DataStreamID = "rep_notify"
)

// DataStream defines a service/characteristic combo for a specific data need
type DataStream struct {
	ID                 DataStreamID
	DisplayName        string
	Description        string
	ServiceUUID        string
	CharacteristicUUID string
	Mode               CharacteristicMode
}

var (
	DataStreamControl = DataStream{
		ID:                 StreamControl,
		DisplayName:        "Control",
		Description:        "Init, preset and echo control frames",
		ServiceUUID:        ServiceUUIDNordicUART,
		CharacteristicUUID: CharUUIDControl,
		Mode:               ModeWrite,
	}
	DataStreamMonitor = DataStream{
		ID:                 StreamMonitor,
		DisplayName:        "Monitor",
		Description:        "Cable load and position, polled at 10 Hz",
		ServiceUUID:        ServiceUUIDNordicUART,
		CharacteristicUUID: CharUUIDMonitor,
		Mode:               ModeRead,
	}
	DataStreamRepNotify = DataStream{
		ID:                 StreamRepNotify,
		DisplayName:        "Half Reps",
		Description:        "One notification per top or bottom cable transition",
		ServiceUUID:        ServiceUUIDNordicUART,
		CharacteristicUUID: CharUUIDRepNotify,
		Mode:               ModeNotify,
	}
)

// AllDataStreams is the registry of all supported data streams
var AllDataStreams = []DataStream{
	DataStreamControl,
	DataStreamMonitor,
	DataStreamRepNotify,
}

// GetStreamByID returns a stream by its ID
func GetStreamByID(id DataStreamID) (DataStream, bool) {
	for _, s := range AllDataStreams {
		if s.ID == id {
			return s, true
		}
	}
	return DataStream{}, false
}

// GetStreamByCharacteristic returns the stream addressing the given
// service/characteristic pair.
func GetStreamByCharacteristic(serviceUUID, charUUID string) (DataStream, bool) {
	for _, s := range AllDataStreams {
		if s.ServiceUUID == serviceUUID && s.CharacteristicUUID == charUUID {
			return s, true
		}
	}
	return DataStream{}, false
}
