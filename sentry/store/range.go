package store

import "github.com/syndtr/goleveldb/leveldb/util"

func leveldbRange(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}
