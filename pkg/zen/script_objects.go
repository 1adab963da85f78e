package zen

import "fmt"

const scriptObjectSize = 32

// ScriptObject is an entry of the global script object table: a native
// object addressed by a ScriptImport index.
type ScriptObject struct {
	Name          Name
	GlobalIndex   ObjectIndex
	OuterIndex    ObjectIndex
	CDOClassIndex ObjectIndex
}

// UnmarshalScriptObjects decodes the script objects chunk.
func UnmarshalScriptObjects(data []byte) ([]ScriptObject, error) {
	s := newStream(data)
	names, err := readNameBatch(s)
	if err != nil {
		return nil, malformed("script_objects.names", "%v", err)
	}
	n, err := s.readCount(scriptObjectSize)
	if err != nil {
		return nil, malformed("script_objects.count", "%v", err)
	}
	objects := make([]ScriptObject, n)
	for i := range objects {
		field := fmt.Sprintf("script_objects[%d]", i)
		mapped, _ := s.readMappedName()
		if mapped.Type != MappedGlobal {
			return nil, malformed(field+".name", "name is not global (type %d)", mapped.Type)
		}
		obj := &objects[i]
		if obj.Name, err = mapped.Resolve(field+".name", names); err != nil {
			return nil, err
		}
		global, _ := s.readUint64()
		outer, _ := s.readUint64()
		cdoClass, _ := s.readUint64()
		obj.GlobalIndex = ObjectIndex(global)
		obj.OuterIndex = ObjectIndex(outer)
		obj.CDOClassIndex = ObjectIndex(cdoClass)
		if obj.GlobalIndex.Kind() != KindScriptImport {
			return nil, malformed(field+".global_index", "%s is not a script import", obj.GlobalIndex)
		}
	}
	return objects, nil
}

// MarshalScriptObjects encodes objects as a script objects chunk.
func MarshalScriptObjects(objects []ScriptObject) ([]byte, error) {
	var names []string
	slots := make(map[string]uint32)
	for _, obj := range objects {
		if _, ok := slots[obj.Name.Value]; !ok {
			slots[obj.Name.Value] = uint32(len(names))
			names = append(names, obj.Name.Value)
		}
	}
	var b builder
	if err := putNameBatch(&b, names); err != nil {
		return nil, fmt.Errorf("script objects: %w", err)
	}
	b.putInt32(int32(len(objects)))
	for _, obj := range objects {
		b.putMappedName(MappedName{Index: slots[obj.Name.Value], Type: MappedGlobal, Number: obj.Name.Number})
		b.putUint64(uint64(obj.GlobalIndex))
		b.putUint64(uint64(obj.OuterIndex))
		b.putUint64(uint64(obj.CDOClassIndex))
	}
	return b.bytes(), nil
}
