package index

var (
	bMeta  = []byte("meta")  // slug -> metaBytes
	bAlias = []byte("alias") // old slug -> current slug
	bShort = []byte("short") // shortID -> slug

	bIdxTag = []byte("idx_tag") // tag -> sub-bucket
	bIdxCat = []byte("idx_cat") // cat -> sub-bucket

	bIdxUpdated = []byte("idx_updated")
	bIdxCreated = []byte("idx_created")
)

func allBuckets() [][]byte {
	return [][]byte{bMeta, bAlias, bShort, bIdxTag, bIdxCat, bIdxUpdated, bIdxCreated}
}
