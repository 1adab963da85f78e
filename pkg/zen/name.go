package zen

import "fmt"

// Name is an interned string with an optional instance number. Number 0
// means no number; Number n renders as "<Value>_<n-1>".
type Name struct {
	Value  string
	Number uint32
}

// NoneName is the conventional empty name.
var NoneName = Name{Value: "None"}

// NewName returns a name without an instance number.
func NewName(value string) Name { return Name{Value: value} }

// Base returns the name with its instance number stripped.
func (n Name) Base() Name { return Name{Value: n.Value} }

func (n Name) String() string {
	if n.Number == 0 {
		return n.Value
	}
	return fmt.Sprintf("%s_%d", n.Value, n.Number-1)
}

// MappedNameType says which name table a MappedName indexes.
type MappedNameType uint8

const (
	MappedPackage   MappedNameType = 0
	MappedContainer MappedNameType = 1
	MappedGlobal    MappedNameType = 2
)

const (
	mappedNameTypeShift = 30
	mappedNameIndexMask = uint32(1)<<mappedNameTypeShift - 1
	mappedNameSize      = 8
)

// MappedName is a name reference into a name batch.
type MappedName struct {
	Index  uint32
	Type   MappedNameType
	Number uint32
}

func (m MappedName) packed() uint32 {
	return uint32(m.Type)<<mappedNameTypeShift | m.Index&mappedNameIndexMask
}

func unpackMappedName(packed, number uint32) MappedName {
	return MappedName{
		Index:  packed & mappedNameIndexMask,
		Type:   MappedNameType(packed >> mappedNameTypeShift),
		Number: number,
	}
}

// Resolve looks the name up in table.
func (m MappedName) Resolve(field string, table []string) (Name, error) {
	if int(m.Index) >= len(table) {
		return Name{}, malformed(field, "name index %d out of range (%d names)", m.Index, len(table))
	}
	return Name{Value: table[m.Index], Number: m.Number}, nil
}

func (s *stream) readMappedName() (MappedName, error) {
	packed, err := s.readUint32()
	if err != nil {
		return MappedName{}, err
	}
	number, err := s.readUint32()
	if err != nil {
		return MappedName{}, err
	}
	return unpackMappedName(packed, number), nil
}

func (b *builder) putMappedName(m MappedName) {
	b.putUint32(m.packed())
	b.putUint32(m.Number)
}
