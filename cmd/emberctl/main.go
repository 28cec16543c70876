// Command emberctl is an interactive shell over an ember database file:
// bucket management, key/value reads and writes, cursor scans, vacuum,
// and an integrity check, each run in its own autocommit transaction.
//
// Usage:
//
//	emberctl [database-file]
//
// Enter .help at the prompt for the command list.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ember/pkg/ember"
	"ember/pkg/ember/errcode"
)

func main() {
	path := "ember.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	db, err := ember.Open(path, ember.Options{
		PageSize:        4096,
		CacheSizeBytes:  8 << 20,
		CreateIfMissing: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberctl: opening %s: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	sh := &shell{db: db, out: os.Stdout, errOut: os.Stderr, in: bufio.NewReader(os.Stdin)}
	sh.run()
}

// shell is a minimal read-eval-print loop: one line in, one command
// out, every command wrapped in its own transaction.
type shell struct {
	db     *ember.DB
	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader
	bucket string
}

func (s *shell) run() {
	fmt.Fprintln(s.out, "emberctl — enter .help for commands")
	for {
		fmt.Fprint(s.out, s.prompt())
		line, err := s.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			s.dispatch(line)
		}
		if err != nil {
			fmt.Fprintln(s.out)
			return
		}
	}
}

func (s *shell) prompt() string {
	if s.bucket == "" {
		return "ember> "
	}
	return fmt.Sprintf("ember[%s]> ", s.bucket)
}

func (s *shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	var err error
	switch cmd {
	case ".help":
		s.help()
	case ".exit", ".quit":
		os.Exit(0)
	case ".buckets":
		err = s.listBuckets()
	case ".create":
		err = s.withArgs(args, 1, func() error { return s.createBucket(args[0]) })
	case ".open":
		err = s.withArgs(args, 1, func() error { s.bucket = args[0]; return nil })
	case ".drop":
		err = s.withArgs(args, 1, func() error { return s.dropBucket(args[0]) })
	case ".vacuum":
		err = s.vacuum()
	case ".checkpoint":
		err = s.checkpoint(len(args) > 0 && args[0] == "reset")
	case ".check":
		err = s.check()
	case "get":
		err = s.withArgs(args, 1, func() error { return s.get(args[0]) })
	case "put":
		err = s.withArgs(args, 2, func() error { return s.put(args[0], strings.Join(args[1:], " ")) })
	case "erase":
		err = s.withArgs(args, 1, func() error { return s.erase(args[0]) })
	case "scan":
		err = s.scan()
	default:
		fmt.Fprintf(s.errOut, "unrecognized command %q; try .help\n", cmd)
		return
	}
	if err != nil {
		fmt.Fprintf(s.errOut, "error: %v (%s)\n", err, errcode.Of(err))
	}
}

func (s *shell) withArgs(args []string, want int, f func() error) error {
	if len(args) < want {
		return fmt.Errorf("expected at least %d argument(s), got %d", want, len(args))
	}
	return f()
}

func (s *shell) help() {
	fmt.Fprintln(s.out, `.help              show this text
.buckets           list buckets
.create <name>     create a bucket and select it
.open <name>       select an existing bucket
.drop <name>       drop a bucket
.vacuum            repack the file and discard reclaimed space
.checkpoint [reset] copy WAL frames into the main file
.check             run an integrity check over every bucket
.exit              leave the shell
get <key>          read a value from the selected bucket
put <key> <value>  write a value into the selected bucket
erase <key>        remove a key from the selected bucket
scan               print every key/value in the selected bucket, in order`)
}

func (s *shell) requireBucket() error {
	if s.bucket == "" {
		return fmt.Errorf("no bucket selected; use .create or .open first")
	}
	return nil
}

func (s *shell) listBuckets() error {
	txn, err := s.db.BeginTxn(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	names, err := txn.ListBuckets()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(s.out, n)
	}
	return nil
}

func (s *shell) createBucket(name string) error {
	txn, err := s.db.BeginTxn(true)
	if err != nil {
		return err
	}
	b, err := txn.CreateBucket(name, false)
	if err != nil {
		txn.Rollback()
		return err
	}
	b.Close()
	if err := txn.Commit(); err != nil {
		return err
	}
	s.bucket = name
	return nil
}

func (s *shell) dropBucket(name string) error {
	txn, err := s.db.BeginTxn(true)
	if err != nil {
		return err
	}
	if err := txn.DropBucket(name); err != nil {
		txn.Rollback()
		return err
	}
	if s.bucket == name {
		s.bucket = ""
	}
	return txn.Commit()
}

func (s *shell) get(key string) error {
	if err := s.requireBucket(); err != nil {
		return err
	}
	txn, err := s.db.BeginTxn(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	b, err := txn.OpenBucket(s.bucket)
	if err != nil {
		return err
	}
	defer b.Close()
	v, err := b.Get([]byte(key))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(v))
	return nil
}

func (s *shell) put(key, value string) error {
	if err := s.requireBucket(); err != nil {
		return err
	}
	txn, err := s.db.BeginTxn(true)
	if err != nil {
		return err
	}
	b, err := txn.OpenBucket(s.bucket)
	if err != nil {
		txn.Rollback()
		return err
	}
	if err := b.Put([]byte(key), []byte(value)); err != nil {
		b.Close()
		txn.Rollback()
		return err
	}
	b.Close()
	return txn.Commit()
}

func (s *shell) erase(key string) error {
	if err := s.requireBucket(); err != nil {
		return err
	}
	txn, err := s.db.BeginTxn(true)
	if err != nil {
		return err
	}
	b, err := txn.OpenBucket(s.bucket)
	if err != nil {
		txn.Rollback()
		return err
	}
	if err := b.Erase([]byte(key)); err != nil {
		b.Close()
		txn.Rollback()
		return err
	}
	b.Close()
	return txn.Commit()
}

func (s *shell) scan() error {
	if err := s.requireBucket(); err != nil {
		return err
	}
	txn, err := s.db.BeginTxn(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	b, err := txn.OpenBucket(s.bucket)
	if err != nil {
		return err
	}
	defer b.Close()
	cur, err := b.NewCursor()
	if err != nil {
		return err
	}
	count := 0
	for err := cur.SeekFirst(); err == nil && cur.IsValid(); err = cur.Next() {
		k, err := cur.Key()
		if err != nil {
			return err
		}
		v, err := cur.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = %s\n", k, v)
		count++
	}
	if err := cur.Status(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "(%s)\n", strconv.Itoa(count)+" entries")
	return nil
}

func (s *shell) vacuum() error {
	txn, err := s.db.BeginTxn(true)
	if err != nil {
		return err
	}
	if err := txn.Vacuum(); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func (s *shell) checkpoint(reset bool) error {
	return s.db.Checkpoint(reset)
}

func (s *shell) check() error {
	txn, err := s.db.BeginTxn(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return txn.IntegrityCheck()
}
