// Package stat mirrors a file's stat information, consumed by
// filesize/isdir/inumber style queries.
package stat

// Stat_t holds the subset of file metadata the core reports: inode
// sector, mode (isdir), and size.
type Stat_t struct {
	ino  uint
	mode uint
	size uint
}

const (
	ModeFile = 0
	ModeDir  = 1 << 0
)

func (st *Stat_t) Wino(v uint)  { st.ino = v }
func (st *Stat_t) Wmode(v uint) { st.mode = v }
func (st *Stat_t) Wsize(v uint) { st.size = v }

func (st *Stat_t) Ino() uint   { return st.ino }
func (st *Stat_t) Mode() uint  { return st.mode }
func (st *Stat_t) Size() uint  { return st.size }
func (st *Stat_t) IsDir() bool { return st.mode&ModeDir != 0 }
