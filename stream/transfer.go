package stream

import (
	"github.com/taskloop/taskloop/listx"
	"github.com/taskloop/taskloop/loop"
	"github.com/taskloop/taskloop/scheduler"
)

// Transfer copies from src to dst in chunkSize pieces: the calling task is
// the writer, a task posted on lp is the dedicated reader,
// and the two communicate through a shared FIFO with a debounced async
// wakeup (num_wakeup_req/num_wakeup_done never let more than one pending
// wakeup be in flight). Grounded on
// original_source/src/api/src/api_stream_common.c's api_stream_transfer /
// api_transfer_reader.
func Transfer(task *scheduler.Task, lp *loop.Loop, dst, src *Stream, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	t := &transferState{
		src:       src,
		writer:    task,
		chunkSize: chunkSize,
		buffers:   &listx.List[[]byte]{},
	}

	if err := lp.Post(func(readerTask *scheduler.Task) {
		transferReader(readerTask, lp, t)
	}, 0); err != nil {
		return 0, err
	}

	total := 0
	for {
		lp.Scheduler().Sleep(task)
		t.numWakeupDone++

		for {
			buf, ok := t.buffers.PopFront()
			if !ok {
				break
			}
			wrote, err := dst.Write(task, buf)
			total += wrote
			if err != nil || wrote != len(buf) {
				t.writeDone = true
				return total, err
			}
		}

		if t.readDone && t.buffers.Empty() {
			break
		}
	}

	return total, nil
}

type transferState struct {
	src           *Stream
	writer        *scheduler.Task
	chunkSize     int
	buffers       *listx.List[[]byte]
	readDone      bool
	writeDone     bool
	numWakeupReq  int
	numWakeupDone int
}

func transferReader(readerTask *scheduler.Task, lp *loop.Loop, t *transferState) {
	for {
		buf := make([]byte, t.chunkSize)
		n, err := t.src.Read(readerTask, buf)
		if n == 0 || err != nil {
			t.readDone = true
			break
		}

		t.buffers.PushBack(buf[:n])

		if t.writeDone {
			break
		}

		if t.numWakeupDone == t.numWakeupReq {
			_ = lp.AsyncWakeup(t.writer)
			t.numWakeupReq++
		}
	}

	if t.numWakeupDone == t.numWakeupReq {
		_ = lp.AsyncWakeup(t.writer)
		t.numWakeupReq++
	}
}
