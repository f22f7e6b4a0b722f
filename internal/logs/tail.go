package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 250 * time.Millisecond

// TailOptions select what Tail returns. A negative Offset asks for the last
// Limit matching entries; otherwise entries after Offset are returned. With
// Follow, Tail polls up to Wait for the first new matching entries.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// TailResult carries the entries read and the offset to resume from.
type TailResult struct {
	Entries []Entry
	Offset  int64
}

// Tail reads the run log at path. A missing log yields no entries.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("stat run log: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("run log %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	var res TailResult
	if opts.Offset < 0 {
		entries, offset, err := scan(path, 0, opts.Filter)
		if err != nil {
			return res, err
		}
		res.Entries, res.Offset = last(entries, opts.Limit), offset
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = info.Size()
		}
		if res.Entries, res.Offset, err = scan(path, offset, opts.Filter); err != nil {
			return res, err
		}
	}
	if opts.Follow && opts.Wait > 0 && len(res.Entries) == 0 {
		return wait(ctx, path, res.Offset, opts)
	}
	return res, nil
}

func last(entries []Entry, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	if len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}

// scan reads complete lines from offset. A trailing partial line is left
// for the next call so a record being written is never split.
func scan(path string, offset int64, filter Filter) ([]Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open run log: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek run log: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var entries []Entry
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return entries, offset, nil
		}
		if err != nil {
			return nil, offset, fmt.Errorf("read run log: %w", err)
		}
		offset += int64(len(line))
		e := ParseEntry(line[:len(line)-1])
		if filter.Match(e) {
			entries = append(entries, e)
		}
	}
}

func wait(ctx context.Context, path string, offset int64, opts TailOptions) (TailResult, error) {
	deadline := time.Now().Add(opts.Wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	res := TailResult{Offset: offset}
	for {
		entries, next, err := scan(path, res.Offset, opts.Filter)
		if err != nil {
			return res, err
		}
		res.Offset = next
		if len(entries) > 0 || time.Now().After(deadline) {
			res.Entries = entries
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}
