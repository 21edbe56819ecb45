package archive

import (
	"github.com/TFMV/flasharc/internal/validation"
)

// record exercises every container through a hand-written composite
// archiver, the way generated or domain archivers are written.
type record struct {
	ID    uint32
	Name  string
	Tags  []string
	Score *float64
	Data  []int64
}

type archivedRecord struct {
	ID    uint32
	Name  ArchivedStr
	Tags  ArchivedSlice[ArchivedStr]
	Score ArchivedOption[float64]
	Data  ArchivedSlice[int64]
}

type recordArchiver struct {
	tags    *OwnedArchiver[[]string, ArchivedSlice[ArchivedStr]]
	score   *OptionArchiver[float64, float64]
	data    *OwnedArchiver[[]int64, ArchivedSlice[int64]]
	layout  Layout
	offsets []int
}

type recordResolver struct {
	name, tags, score, data Resolver
}

func newRecordArchiver() *recordArchiver {
	ra := &recordArchiver{
		tags:  Vec(String),
		score: Option(Float64),
		data:  Vec(Int64),
	}
	ra.layout, ra.offsets = StructLayout(
		Uint32.Layout(),
		String.Layout(),
		ra.tags.Layout(),
		ra.score.Layout(),
		ra.data.Layout(),
	)
	return ra
}

func (ra *recordArchiver) Layout() Layout { return ra.layout }

func (ra *recordArchiver) Serialize(s Serializer, v record) (Resolver, error) {
	var r recordResolver
	var err error
	if r.name, err = String.Serialize(s, v.Name); err != nil {
		return nil, err
	}
	if r.tags, err = ra.tags.Serialize(s, v.Tags); err != nil {
		return nil, err
	}
	if r.score, err = ra.score.Serialize(s, v.Score); err != nil {
		return nil, err
	}
	if r.data, err = ra.data.Serialize(s, v.Data); err != nil {
		return nil, err
	}
	return r, nil
}

func (ra *recordArchiver) field(out []byte, i int, l Layout) []byte {
	return out[ra.offsets[i] : ra.offsets[i]+l.Size]
}

func (ra *recordArchiver) Resolve(v record, pos int, r Resolver, out []byte) {
	rr := r.(recordResolver)
	o := ra.offsets
	Uint32.Resolve(v.ID, pos+o[0], nil, ra.field(out, 0, Uint32.Layout()))
	String.Resolve(v.Name, pos+o[1], rr.name, ra.field(out, 1, String.Layout()))
	ra.tags.Resolve(v.Tags, pos+o[2], rr.tags, ra.field(out, 2, ra.tags.Layout()))
	ra.score.Resolve(v.Score, pos+o[3], rr.score, ra.field(out, 3, ra.score.Layout()))
	ra.data.Resolve(v.Data, pos+o[4], rr.data, ra.field(out, 4, ra.data.Layout()))
}

func (ra *recordArchiver) Access(buf []byte, pos int) archivedRecord {
	o := ra.offsets
	return archivedRecord{
		ID:    Uint32.Access(buf, pos+o[0]),
		Name:  String.Access(buf, pos+o[1]),
		Tags:  ra.tags.Access(buf, pos+o[2]),
		Score: ra.score.Access(buf, pos+o[3]),
		Data:  ra.data.Access(buf, pos+o[4]),
	}
}

func (ra *recordArchiver) Deserialize(d Deserializer, a archivedRecord) (record, error) {
	var out record
	var err error
	out.ID = a.ID
	if out.Name, err = String.Deserialize(d, a.Name); err != nil {
		return record{}, err
	}
	if out.Tags, err = ra.tags.Deserialize(d, a.Tags); err != nil {
		return record{}, err
	}
	if out.Score, err = ra.score.Deserialize(d, a.Score); err != nil {
		return record{}, err
	}
	if out.Data, err = ra.data.Deserialize(d, a.Data); err != nil {
		return record{}, err
	}
	return out, nil
}

func (ra *recordArchiver) CheckBytes(c *validation.Context, pos int) error {
	o := ra.offsets
	if err := String.CheckBytes(c, pos+o[1]); err != nil {
		return err
	}
	if err := ra.tags.CheckBytes(c, pos+o[2]); err != nil {
		return err
	}
	if err := ra.score.CheckBytes(c, pos+o[3]); err != nil {
		return err
	}
	return ra.data.CheckBytes(c, pos+o[4])
}

func sampleRecord() record {
	score := 9.5
	return record{
		ID:    42,
		Name:  "hello world",
		Tags:  []string{"alpha", "", "γάμμα"},
		Score: &score,
		Data:  []int64{-1, 0, 1 << 40},
	}
}
