// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blobstore

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// blockFilePrefix and undoFilePrefix are the file name prefixes of the
	// two flat-file families managed by the store.  Undo data for the blocks
	// stored in blk file N is always stored in rev file N so whole file
	// pairs can be pruned together.
	blockFilePrefix = "blk"
	undoFilePrefix  = "rev"

	// defaultMaxFileSize is the default maximum size for each file used to
	// store blocks and their undo data.
	//
	// NOTE: The code uses uint32 offsets throughout, so this value must be
	// less than 2^32 (4 GiB).
	defaultMaxFileSize uint32 = 128 * 1024 * 1024 // 128 MiB

	// preallocChunkSize is the number of bytes files are extended by at a
	// time.  Writing into already-allocated regions reduces fragmentation
	// on most file systems.
	preallocChunkSize uint32 = 16 * 1024 * 1024 // 16 MiB

	// frameHeaderSize is the number of bytes that prefix every serialized
	// payload in a flat file: 4 bytes of network magic followed by a 4-byte
	// little-endian payload length that does not include the header itself.
	frameHeaderSize = 8

	// maxOpenFiles is the maximum number of read file handles kept open per
	// family.  The current write file is not counted against this limit.
	maxOpenFiles = 25
)

// byteOrder is the preferred byte order used through the flat files.
var byteOrder = binary.LittleEndian

// Location identifies the position of a stored payload: the number of the
// file that houses it and the offset of the start of its frame within that
// file.
type Location struct {
	FileNum uint32
	Offset  uint32
}

// lockableFile represents a flat file on disk that has been opened for either
// read or read/write access.  It also contains a read-write mutex to support
// multiple concurrent readers.
type lockableFile struct {
	sync.RWMutex
	file *os.File
}

// fileFamily houses the write cursor and bounded set of open read handles for
// one of the two flat-file families.
type fileFamily struct {
	prefix string

	// writeLock protects the write cursor fields below.
	writeLock sync.Mutex

	// curFile is the file currently being appended to.  It is nil until the
	// first write after open.
	curFile   *lockableFile
	curFleNum uint32
	curOffset uint32

	// allocatedSize tracks how far the current write file has been
	// preallocated so appends know when to extend it.
	allocatedSize uint32

	// The following fields implement a least recently used cache of open
	// read file handles, bounded by maxOpenFiles.
	openFilesLock sync.RWMutex
	openFiles     map[uint32]*lockableFile
	lruList       *list.List
	lruElems      map[uint32]*list.Element
}

// Store provides append-only storage of typed payloads in fixed-size flat
// files with positional addressing.  Blocks are stored in the blk family and
// block undo data in the rev family.  It is safe for concurrent access.
type Store struct {
	dir         string
	netMagic    [4]byte
	maxFileSize uint32

	// closedLock protects the closed flag so no operation races a Close.
	closedLock sync.RWMutex
	closed     bool

	blocks *fileFamily
	undos  *fileFamily
}

// filePath returns the on-disk path for the provided family file number.
func (s *Store) filePath(prefix string, fileNum uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%05d.dat", prefix, fileNum))
}

// newFileFamily returns an initialized file family for the given prefix.
func newFileFamily(prefix string) *fileFamily {
	return &fileFamily{
		prefix:    prefix,
		openFiles: make(map[uint32]*lockableFile),
		lruList:   list.New(),
		lruElems:  make(map[uint32]*list.Element),
	}
}

// Open opens (creating if necessary) the flat-file store rooted at the given
// directory.  The write cursors are restored by scanning the frames of the
// most recent file of each family, which makes the store resilient against
// partially-written trailing frames from an unclean shutdown: everything
// after the last complete frame is simply overwritten by subsequent appends.
func Open(dir string, netMagic [4]byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, makeError(ErrIO, fmt.Sprintf("failed to create blob "+
			"store directory: %v", err))
	}

	s := &Store{
		dir:         dir,
		netMagic:    netMagic,
		maxFileSize: defaultMaxFileSize,
		blocks:      newFileFamily(blockFilePrefix),
		undos:       newFileFamily(undoFilePrefix),
	}

	for _, family := range []*fileFamily{s.blocks, s.undos} {
		fileNum, offset, err := s.scanWriteCursor(family.prefix)
		if err != nil {
			return nil, err
		}
		family.curFleNum = fileNum
		family.curOffset = offset
		log.Debugf("Write cursor for %s files restored to file %d offset %d",
			family.prefix, fileNum, offset)
	}
	return s, nil
}

// scanWriteCursor determines the file number and logical end offset of the
// most recent file of the given family.  The logical end is found by walking
// the frames of the file since preallocation means the physical file size can
// exceed the end of the valid data.
func (s *Store) scanWriteCursor(prefix string) (uint32, uint32, error) {
	// Find the highest numbered existing file.
	fileNum := uint32(0)
	for {
		if _, err := os.Stat(s.filePath(prefix, fileNum)); err != nil {
			if !os.IsNotExist(err) {
				return 0, 0, makeError(ErrIO, err.Error())
			}
			break
		}
		fileNum++
	}
	if fileNum == 0 {
		return 0, 0, nil
	}
	fileNum--

	file, err := os.Open(s.filePath(prefix, fileNum))
	if err != nil {
		return 0, 0, makeError(ErrIO, err.Error())
	}
	defer file.Close()

	return fileNum, s.scanFileEnd(file), nil
}

// scanFileEnd walks the complete frames of the provided file and returns the
// offset just past the final one.  Preallocated (zeroed) tail regions and
// partially-written trailing frames are excluded since their magic does not
// match.
func (s *Store) scanFileEnd(file *os.File) uint32 {
	var offset uint32
	var header [frameHeaderSize]byte
	for {
		_, err := file.ReadAt(header[:], int64(offset))
		if err != nil {
			break
		}
		if [4]byte{header[0], header[1], header[2], header[3]} != s.netMagic {
			break
		}
		payloadLen := byteOrder.Uint32(header[4:])
		next := offset + frameHeaderSize + payloadLen
		if next <= offset {
			break
		}
		offset = next
	}
	return offset
}

// checkClosed returns an error when the store has been closed.
//
// This function MUST be called with the closed lock held (for reads).
func (s *Store) checkClosed() error {
	if s.closed {
		return makeError(ErrClosed, "blob store is closed")
	}
	return nil
}

// openWriteFile opens the given family file for appending, creating and
// preallocating it as needed, and returns the current allocated size.
func (s *Store) openWriteFile(family *fileFamily, fileNum uint32) (*os.File, uint32, error) {
	filePath := s.filePath(family.prefix, fileNum)
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, 0, makeError(ErrIO, fmt.Sprintf("failed to open file %q: "+
			"%v", filePath, err))
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, makeError(ErrIO, err.Error())
	}
	return file, uint32(stat.Size()), nil
}

// write appends the framed payload to the provided family at the provided
// file number and returns the location of the frame.  When fileNum is nil the
// family's own write cursor chooses (and possibly advances) the file.
func (s *Store) write(family *fileFamily, fileNum *uint32, payload []byte) (Location, error) {
	s.closedLock.RLock()
	defer s.closedLock.RUnlock()
	if err := s.checkClosed(); err != nil {
		return Location{}, err
	}

	frameLen := uint32(frameHeaderSize + len(payload))

	family.writeLock.Lock()
	defer family.writeLock.Unlock()

	// Determine the target file.  Block writes roll to the next file when
	// the frame does not fit, while undo writes target the file paired with
	// the block they belong to.
	targetFileNum := family.curFleNum
	if fileNum != nil {
		targetFileNum = *fileNum
	} else if family.curOffset+frameLen > s.maxFileSize && family.curOffset > 0 {
		targetFileNum++
	}

	// Open (or switch to) the target write file.  When switching files the
	// cursor offset is reset for newly-rolled files and recovered by a frame
	// scan when appending to a historical file, which only happens for undo
	// data written against older blk files during a deep reorganization.
	if family.curFile == nil || targetFileNum != family.curFleNum {
		if family.curFile != nil {
			family.curFile.Lock()
			family.curFile.file.Close()
			family.curFile.Unlock()
			family.curFile = nil
		}
		file, allocated, err := s.openWriteFile(family, targetFileNum)
		if err != nil {
			return Location{}, err
		}
		switch {
		case targetFileNum > family.curFleNum:
			family.curOffset = 0
		case targetFileNum < family.curFleNum:
			family.curOffset = s.scanFileEnd(file)
		}
		family.curFile = &lockableFile{file: file}
		family.allocatedSize = allocated
		family.curFleNum = targetFileNum
	}

	writeOffset := family.curOffset

	// Preallocate ahead of the write position in chunks to reduce
	// fragmentation.
	if writeOffset+frameLen > family.allocatedSize {
		newSize := family.allocatedSize
		for newSize < writeOffset+frameLen {
			newSize += preallocChunkSize
		}
		if newSize > s.maxFileSize && family.allocatedSize < s.maxFileSize {
			newSize = writeOffset + frameLen
		}
		if err := family.curFile.file.Truncate(int64(newSize)); err != nil {
			return Location{}, makeError(ErrIO, fmt.Sprintf("failed to "+
				"preallocate %s file %d: %v", family.prefix, targetFileNum, err))
		}
		family.allocatedSize = newSize
	}

	// Frame the payload and write it at the cursor.
	frame := make([]byte, frameLen)
	copy(frame, s.netMagic[:])
	byteOrder.PutUint32(frame[4:], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	family.curFile.Lock()
	_, err := family.curFile.file.WriteAt(frame, int64(writeOffset))
	family.curFile.Unlock()
	if err != nil {
		return Location{}, makeError(ErrIO, fmt.Sprintf("failed to write %s "+
			"file %d: %v", family.prefix, targetFileNum, err))
	}

	family.curOffset = writeOffset + frameLen
	return Location{FileNum: targetFileNum, Offset: writeOffset}, nil
}

// openReadFile returns a read handle for the given family file, opening it
// and evicting the least recently used handle as needed.
func (s *Store) openReadFile(family *fileFamily, fileNum uint32) (*lockableFile, error) {
	// Reuse the already-open handle when possible and move it to the front
	// of the LRU list.
	family.openFilesLock.Lock()
	defer family.openFilesLock.Unlock()
	if file, ok := family.openFiles[fileNum]; ok {
		family.lruList.MoveToFront(family.lruElems[fileNum])
		return file, nil
	}

	file, err := os.Open(s.filePath(family.prefix, fileNum))
	if err != nil {
		return nil, makeError(ErrIO, fmt.Sprintf("failed to open %s file %d: "+
			"%v", family.prefix, fileNum, err))
	}

	// Close the least recently used handle when the limit is hit.
	if family.lruList.Len() >= maxOpenFiles {
		lruFileNum := family.lruList.Back().Value.(uint32)
		oldFile := family.openFiles[lruFileNum]
		oldFile.Lock()
		oldFile.file.Close()
		oldFile.Unlock()
		delete(family.openFiles, lruFileNum)
		delete(family.lruElems, lruFileNum)
		family.lruList.Remove(family.lruList.Back())
	}

	lf := &lockableFile{file: file}
	family.openFiles[fileNum] = lf
	family.lruElems[fileNum] = family.lruList.PushFront(fileNum)
	return lf, nil
}

// read returns the payload of the frame at the provided location in the
// given family.
func (s *Store) read(family *fileFamily, loc Location) ([]byte, error) {
	s.closedLock.RLock()
	defer s.closedLock.RUnlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	// Serve reads of the active write file through its existing handle.
	var lf *lockableFile
	family.writeLock.Lock()
	if family.curFile != nil && family.curFleNum == loc.FileNum {
		lf = family.curFile
	}
	family.writeLock.Unlock()
	if lf == nil {
		var err error
		lf, err = s.openReadFile(family, loc.FileNum)
		if err != nil {
			return nil, err
		}
	}

	var header [frameHeaderSize]byte
	lf.RLock()
	_, err := lf.file.ReadAt(header[:], int64(loc.Offset))
	lf.RUnlock()
	if err != nil {
		return nil, makeError(ErrTruncated, fmt.Sprintf("failed to read frame "+
			"header of %s file %d offset %d: %v", family.prefix, loc.FileNum,
			loc.Offset, err))
	}

	if [4]byte{header[0], header[1], header[2], header[3]} != s.netMagic {
		return nil, makeError(ErrBadMagic, fmt.Sprintf("bad magic %x at %s "+
			"file %d offset %d", header[0:4], family.prefix, loc.FileNum,
			loc.Offset))
	}

	payloadLen := byteOrder.Uint32(header[4:])
	if payloadLen > s.maxFileSize {
		return nil, makeError(ErrTruncated, fmt.Sprintf("frame in %s file %d "+
			"offset %d claims %d payload bytes which exceeds the maximum file "+
			"size", family.prefix, loc.FileNum, loc.Offset, payloadLen))
	}
	payload := make([]byte, payloadLen)
	lf.RLock()
	n, err := lf.file.ReadAt(payload, int64(loc.Offset)+frameHeaderSize)
	lf.RUnlock()
	if err != nil || uint32(n) != payloadLen {
		return nil, makeError(ErrTruncated, fmt.Sprintf("truncated payload "+
			"in %s file %d offset %d: read %d of %d bytes", family.prefix,
			loc.FileNum, loc.Offset, n, payloadLen))
	}
	return payload, nil
}

// WriteBlock appends the serialized block to the blk family and returns the
// location of its frame.
func (s *Store) WriteBlock(serialized []byte) (Location, error) {
	return s.write(s.blocks, nil, serialized)
}

// WriteUndo appends the serialized undo data to the rev file paired with the
// blk file that houses its block and returns the location of its frame.
func (s *Store) WriteUndo(serialized []byte, blockFileNum uint32) (Location, error) {
	return s.write(s.undos, &blockFileNum, serialized)
}

// ReadBlock returns the serialized block at the provided location.
func (s *Store) ReadBlock(loc Location) ([]byte, error) {
	return s.read(s.blocks, loc)
}

// ReadUndo returns the serialized undo data at the provided location.
func (s *Store) ReadUndo(loc Location) ([]byte, error) {
	return s.read(s.undos, loc)
}

// BlockFileNum returns the file number new block data will currently be
// written to.
func (s *Store) BlockFileNum() uint32 {
	s.blocks.writeLock.Lock()
	fileNum := s.blocks.curFleNum
	s.blocks.writeLock.Unlock()
	return fileNum
}

// removeOpenFile drops any cached read handle for the given family file.
func (family *fileFamily) removeOpenFile(fileNum uint32) {
	family.openFilesLock.Lock()
	if lf, ok := family.openFiles[fileNum]; ok {
		lf.Lock()
		lf.file.Close()
		lf.Unlock()
		delete(family.openFiles, fileNum)
		family.lruList.Remove(family.lruElems[fileNum])
		delete(family.lruElems, fileNum)
	}
	family.openFilesLock.Unlock()
}

// PruneFiles deletes all blk/rev file pairs with file numbers strictly below
// the provided one and returns the file numbers that were removed.  The
// caller is responsible for ensuring nothing in the deleted files is ever
// referenced again.
func (s *Store) PruneFiles(keepFileNum uint32) ([]uint32, error) {
	s.closedLock.RLock()
	defer s.closedLock.RUnlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var removed []uint32
	for fileNum := uint32(0); fileNum < keepFileNum; fileNum++ {
		blkPath := s.filePath(blockFilePrefix, fileNum)
		if _, err := os.Stat(blkPath); os.IsNotExist(err) {
			continue
		}

		s.blocks.removeOpenFile(fileNum)
		s.undos.removeOpenFile(fileNum)

		if err := os.Remove(blkPath); err != nil {
			return removed, makeError(ErrIO, fmt.Sprintf("failed to remove "+
				"%q: %v", blkPath, err))
		}
		revPath := s.filePath(undoFilePrefix, fileNum)
		if err := os.Remove(revPath); err != nil && !os.IsNotExist(err) {
			return removed, makeError(ErrIO, fmt.Sprintf("failed to remove "+
				"%q: %v", revPath, err))
		}
		removed = append(removed, fileNum)
	}
	if len(removed) > 0 {
		log.Infof("Pruned %d block file pair(s) below file %d", len(removed),
			keepFileNum)
	}
	return removed, nil
}

// Close cleanly shuts down the store and closes all open file handles.
func (s *Store) Close() error {
	s.closedLock.Lock()
	defer s.closedLock.Unlock()
	if s.closed {
		return makeError(ErrClosed, "blob store is closed")
	}
	s.closed = true

	for _, family := range []*fileFamily{s.blocks, s.undos} {
		family.writeLock.Lock()
		if family.curFile != nil {
			family.curFile.Lock()
			family.curFile.file.Close()
			family.curFile.Unlock()
			family.curFile = nil
		}
		family.writeLock.Unlock()

		family.openFilesLock.Lock()
		for _, lf := range family.openFiles {
			lf.Lock()
			lf.file.Close()
			lf.Unlock()
		}
		family.openFiles = make(map[uint32]*lockableFile)
		family.lruList.Init()
		family.lruElems = make(map[uint32]*list.Element)
		family.openFilesLock.Unlock()
	}
	return nil
}
