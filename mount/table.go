package mount

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Info describes one entry of /proc/<pid>/mountinfo, the fields the
// validator needs to reconcile a volume's hashlist against its current
// mount topology.
type Info struct {
	Mountpoint string
	Root       string
	Fstype     string
	Source     string
	Opts       string
	VfsOpts    string
	Optional   string
	Major      int
	Minor      int
}

func parseMountTable() ([]*Info, error) {
	return parseMountInfoFile("/proc/self/mountinfo")
}

func parseMountTableForPid(pid uint32) ([]*Info, error) {
	return parseMountInfoFile(fmt.Sprintf("/proc/%d/mountinfo", pid))
}

// parseMountInfoFile parses the mountinfo(5) format:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
func parseMountInfoFile(path string) ([]*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mount: opening %s: %w", path, err)
	}
	defer f.Close()

	var infos []*Info
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}

		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		if sep < 0 || sep+3 >= len(fields) {
			continue
		}

		majmin := strings.SplitN(fields[2], ":", 2)
		var major, minor int
		if len(majmin) == 2 {
			major, _ = strconv.Atoi(majmin[0])
			minor, _ = strconv.Atoi(majmin[1])
		}

		optional := ""
		if sep > 6 {
			optional = strings.Join(fields[6:sep], " ")
		}

		infos = append(infos, &Info{
			Root:       fields[3],
			Mountpoint: fields[4],
			Opts:       fields[5],
			Optional:   optional,
			Fstype:     fields[sep+1],
			Source:     fields[sep+2],
			VfsOpts:    fields[sep+3],
			Major:      major,
			Minor:      minor,
		})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("mount: reading %s: %w", path, err)
	}
	return infos, nil
}

// optToFlag converts mount option strings (e.g. "ro", "nodev") to their
// corresponding unix.MS_* flag bits.
func optToFlag(opts []string) int {
	table := map[string]int{
		"ro":           unix.MS_RDONLY,
		"nodev":        unix.MS_NODEV,
		"noexec":       unix.MS_NOEXEC,
		"nosuid":       unix.MS_NOSUID,
		"noatime":      unix.MS_NOATIME,
		"nodiratime":   unix.MS_NODIRATIME,
		"relatime":     unix.MS_RELATIME,
		"strictatime":  unix.MS_STRICTATIME,
		"sync":         unix.MS_SYNCHRONOUS,
	}
	flags := 0
	for _, o := range opts {
		if bit, ok := table[o]; ok {
			flags |= bit
		}
	}
	return flags
}
