package msgfile

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/dhcgn/mail-normalize/charset"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Property types as stored in stream names and property entries.
const (
	TypeLong    uint16 = 0x0003
	TypeObject  uint16 = 0x000D
	TypeString8 uint16 = 0x001E
	TypeUnicode uint16 = 0x001F
	TypeSysTime uint16 = 0x0040
	TypeBinary  uint16 = 0x0102
)

// Property ids read by Parse.
const (
	PropSubject            uint16 = 0x0037
	PropClientSubmitTime   uint16 = 0x0039
	PropTransportHeaders   uint16 = 0x007D
	PropRecipientType      uint16 = 0x0C15
	PropSenderName         uint16 = 0x0C1A
	PropSenderEmail        uint16 = 0x0C1F
	PropDeliveryTime       uint16 = 0x0E06
	PropBody               uint16 = 0x1000
	PropDisplayName        uint16 = 0x3001
	PropEmailAddress       uint16 = 0x3003
	PropAttachData         uint16 = 0x3701
	PropAttachFilename     uint16 = 0x3704
	PropAttachLongFilename uint16 = 0x3707
	PropSMTPAddress        uint16 = 0x39FE
	PropSenderSMTPAddress  uint16 = 0x5D01
)

const (
	substgPrefix     = "__substg1.0_"
	propertiesStream = "__properties_version1.0"
	attachPrefix     = "__attach_version1.0_#"
	recipPrefix      = "__recip_version1.0_#"

	// Size of the properties stream header before the 16-byte entries.
	rootPropertiesHeader  = 32
	childPropertiesHeader = 8
	propertyEntrySize     = 16
)

func tag(id, typ uint16) uint32 {
	return uint32(id)<<16 | uint32(typ)
}

// parseStreamTag reads the property tag out of a "__substg1.0_IIIITTTT"
// stream name.
func parseStreamTag(name string) (uint32, bool) {
	hex, ok := strings.CutPrefix(name, substgPrefix)
	if !ok || len(hex) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// parseProperties reads fixed-size property values, keyed by tag.
func parseProperties(data []byte, headerSize int) map[uint32][8]byte {
	props := map[uint32][8]byte{}
	if len(data) < headerSize {
		return props
	}
	for off := headerSize; off+propertyEntrySize <= len(data); off += propertyEntrySize {
		t := binary.LittleEndian.Uint32(data[off:])
		var value [8]byte
		copy(value[:], data[off+8:off+16])
		props[t] = value
	}
	return props
}

// object is the property set of one storage: the message itself, one
// recipient or one attachment.
type object struct {
	name       string
	streams    map[uint32][]byte
	properties []byte
}

func newObject(name string) *object {
	return &object{name: name, streams: map[uint32][]byte{}}
}

func (o *object) text(id uint16) (string, bool) {
	if b, ok := o.streams[tag(id, TypeUnicode)]; ok {
		return decodeUnicode(b), true
	}
	if b, ok := o.streams[tag(id, TypeString8)]; ok {
		return strings.TrimRight(charset.DecodeCandidates(b), "\x00"), true
	}
	return "", false
}

func (o *object) blob(id uint16) ([]byte, bool) {
	b, ok := o.streams[tag(id, TypeBinary)]
	return b, ok
}

func (o *object) fixed(id, typ uint16, headerSize int) ([8]byte, bool) {
	v, ok := parseProperties(o.properties, headerSize)[tag(id, typ)]
	return v, ok
}

func (o *object) long(id uint16, headerSize int) (int32, bool) {
	v, ok := o.fixed(id, TypeLong, headerSize)
	if !ok {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(v[:4])), true
}

func (o *object) timestamp(id uint16, headerSize int) (time.Time, bool) {
	v, ok := o.fixed(id, TypeSysTime, headerSize)
	if !ok {
		return time.Time{}, false
	}
	ft := binary.LittleEndian.Uint64(v[:])
	if ft == 0 {
		return time.Time{}, false
	}
	return filetime(ft), true
}

// filetime converts 100ns intervals since 1601-01-01 UTC.
func filetime(ft uint64) time.Time {
	const unixEpochDelta = 11644473600
	secs := int64(ft/10_000_000) - unixEpochDelta
	nsec := int64(ft%10_000_000) * 100
	return time.Unix(secs, nsec).UTC()
}

// decodeUnicode decodes UTF-16LE text, dropping an odd trailing byte and
// NUL terminators.
func decodeUnicode(b []byte) string {
	out, err := utf16le.NewDecoder().Bytes(b[:len(b)&^1])
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}
