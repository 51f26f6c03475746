package slave

import (
	"fmt"
	"math"
)

// Command is the one-byte command code of a frame.
type Command uint8

// Commands sent by the controller to the terminal.
const (
	CmdReadCard              Command = 0x01
	CmdPacketFromServer      Command = 0x02
	CmdShowPicture           Command = 0x03
	CmdShowQR                Command = 0x04
	CmdReboot                Command = 0x05
	CmdPingServer            Command = 0x06
	CmdCancelLastTransaction Command = 0x07
	CmdCancelReadCard        Command = 0x08
	CmdFillScreen            Command = 0x09
	CmdWriteLine             Command = 0x0A
	CmdServerConnectState    Command = 0x0B
	CmdSetCustomValue        Command = 0x0C
	CmdVendReport            Command = 0x0E
	CmdPacketToExtServer     Command = 0x0F
	CmdConnectStateRequest   Command = 0x10
	CmdWriteTextRect         Command = 0x30
	CmdVendRequest           Command = 0x31
)

// Commands sent by the terminal.
const (
	CmdTouch              Command = 0x11
	CmdPacketToServer     Command = 0x12
	CmdCardReadResult     Command = 0x13
	CmdCardAuthResult     Command = 0x14
	CmdAck                Command = 0x15
	CmdRebootReport       Command = 0x16
	CmdConnectStateReport Command = 0x18
	CmdCardAuthRequest    Command = 0x19
	CmdCashInserted       Command = 0x1A
	CmdPacketToMaster     Command = 0x1B
)

var commandNames = map[Command]string{
	CmdReadCard:              "ReadCard",
	CmdPacketFromServer:      "PacketFromServer",
	CmdShowPicture:           "ShowPicture",
	CmdShowQR:                "ShowQR",
	CmdReboot:                "Reboot",
	CmdPingServer:            "PingServer",
	CmdCancelLastTransaction: "CancelLastTransaction",
	CmdCancelReadCard:        "CancelReadCard",
	CmdFillScreen:            "FillScreen",
	CmdWriteLine:             "WriteLine",
	CmdServerConnectState:    "ServerConnectState",
	CmdSetCustomValue:        "SetCustomValue",
	CmdVendReport:            "VendReport",
	CmdPacketToExtServer:     "PacketToExtServer",
	CmdConnectStateRequest:   "ConnectStateRequest",
	CmdWriteTextRect:         "WriteTextRect",
	CmdVendRequest:           "VendRequest",
	CmdTouch:                 "Touch",
	CmdPacketToServer:        "PacketToServer",
	CmdCardReadResult:        "CardReadResult",
	CmdCardAuthResult:        "CardAuthResult",
	CmdAck:                   "Ack",
	CmdRebootReport:          "RebootReport",
	CmdConnectStateReport:    "ConnectStateReport",
	CmdCardAuthRequest:       "CardAuthRequest",
	CmdCashInserted:          "CashInserted",
	CmdPacketToMaster:        "PacketToMaster",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// Picture is a built-in screen of the terminal.
type Picture uint8

const (
	PicturePressKeyForPayment Picture = 1
	PictureSelectGoods        Picture = 2
	PictureAuthorization      Picture = 4
	PictureSuccess            Picture = 5
	PictureRejected           Picture = 6
	PictureUnavailable        Picture = 8
	PictureWait               Picture = 9
	PictureError              Picture = 12
	PictureCustom             Picture = 13
	PictureCancel             Picture = 14
)

func (p Picture) String() string {
	switch p {
	case PicturePressKeyForPayment:
		return "PressKeyForPayment"
	case PictureSelectGoods:
		return "SelectGoods"
	case PictureAuthorization:
		return "Authorization"
	case PictureSuccess:
		return "Success"
	case PictureRejected:
		return "Rejected"
	case PictureUnavailable:
		return "Unavailable"
	case PictureWait:
		return "Wait"
	case PictureError:
		return "Error"
	case PictureCustom:
		return "Custom"
	case PictureCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Picture(%d)", uint8(p))
	}
}

// ConnectState is the terminal's link state to its processing server.
type ConnectState uint8

const (
	ConnectNone ConnectState = iota
	ConnectDisconnected
	ConnectModemFound
	ConnectModemNotFound
	ConnectSIMFound
	ConnectRegistered
	ConnectPhoneNumAcquired
	ConnectGPRSActive
	ConnectIPAcquired
	ConnectServerConnected
)

var connectStateNames = [...]string{
	"None",
	"Disconnected",
	"ModemFound",
	"ModemNotFound",
	"SIMFound",
	"Registered",
	"PhoneNumAcquired",
	"GPRSActive",
	"IPAcquired",
	"ServerConnected",
}

func (s ConnectState) String() string {
	if int(s) < len(connectStateNames) {
		return connectStateNames[s]
	}
	return fmt.Sprintf("ConnectState(%d)", uint8(s))
}

// Online reports whether the terminal can authorize payments.
func (s ConnectState) Online() bool {
	return s == ConnectServerConnected
}

// CardStatus is the outcome of a card read.
type CardStatus uint8

const (
	CardNotFound   CardStatus = 0
	CardUnreadable CardStatus = 1
	CardFound      CardStatus = 2
)

func (s CardStatus) String() string {
	switch s {
	case CardNotFound:
		return "NotFound"
	case CardUnreadable:
		return "Unreadable"
	case CardFound:
		return "Found"
	default:
		return fmt.Sprintf("CardStatus(%d)", uint8(s))
	}
}

// Currency is an ISO 4217 numeric currency code.
type Currency uint16

const (
	RUB Currency = 643
	USD Currency = 840
	EUR Currency = 978
)

func (c Currency) String() string {
	switch c {
	case RUB:
		return "RUB"
	case USD:
		return "USD"
	case EUR:
		return "EUR"
	default:
		return fmt.Sprintf("Currency(%d)", uint16(c))
	}
}

// BCD returns the code as packed BCD digits, most significant first:
// RUB (643) is 06 43.
func (c Currency) BCD() [2]byte {
	var out [2]byte

	n := uint16(c)
	for i := 3; i >= 0; i-- {
		digit := byte(n % 10) //nolint:gosec // single decimal digit
		n /= 10
		if i%2 == 1 {
			out[i/2] |= digit
		} else {
			out[i/2] |= digit << 4
		}
	}

	return out
}

// ParseCurrency accepts "RUB", "USD" or "EUR".
func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "RUB", "rub":
		return RUB, nil
	case "USD", "usd":
		return USD, nil
	case "EUR", "eur":
		return EUR, nil
	default:
		return 0, fmt.Errorf("slave: unknown currency %q", s)
	}
}

// Payload sizes of the outbound commands.
const (
	readCardPayloadSize    = 4 + 2 + 4 + 1
	vendRequestPayloadSize = 2 + 2 + 1
)

// ReadCardPayload builds the ReadCard payload: amount in minor units (u32),
// currency (BCD), a zero timestamp (u32) and the request flag.
func (l Layout) ReadCardPayload(amount int64, cur Currency) ([]byte, error) {
	if amount <= 0 || amount > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d out of range [1, %d]", ErrInvalidAmount, amount, uint32(math.MaxUint32))
	}

	p := make([]byte, readCardPayloadSize)
	l.ByteOrder.PutUint32(p[0:4], uint32(amount))
	bcd := cur.BCD()
	copy(p[4:6], bcd[:])
	l.ByteOrder.PutUint32(p[6:10], 0)
	p[10] = 1

	return p, nil
}

// VendRequestPayload builds the VendRequest payload: amount in minor units
// (u16), item count and product slot.
func (l Layout) VendRequestPayload(amount int64) ([]byte, error) {
	if amount <= 0 || amount > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d out of range [1, %d]", ErrInvalidAmount, amount, math.MaxUint16)
	}

	p := make([]byte, vendRequestPayloadSize)
	l.ByteOrder.PutUint16(p[0:2], uint16(amount))
	l.ByteOrder.PutUint16(p[2:4], 1)
	p[4] = 1

	return p, nil
}

// FillScreenPayload builds the FillScreen payload: an RGB565 color.
func (l Layout) FillScreenPayload(color uint16) []byte {
	p := make([]byte, 2)
	l.ByteOrder.PutUint16(p, color)

	return p
}
