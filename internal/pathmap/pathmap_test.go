package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	virtual = "/mnt/data"
	root    = "/var/lib/mntdata/uploads/s1"
)

func TestToPhysical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "single path", in: "pd.read_csv('/mnt/data/a.csv')", want: "pd.read_csv('" + root + "/a.csv')"},
		{name: "bare prefix", in: "os.listdir('/mnt/data')", want: "os.listdir('" + root + "')"},
		{name: "trailing slash", in: "os.listdir('/mnt/data/')", want: "os.listdir('" + root + "/')"},
		{name: "repeated slashes in prefix", in: "open('/mnt//data/x')", want: "open('" + root + "/x')"},
		{name: "repeated slashes after prefix", in: "open('/mnt/data//x')", want: "open('" + root + "//x')"},
		{
			name: "multiple occurrences",
			in:   "a='/mnt/data/a.csv'\nb=\"/mnt/data/b.xlsx\"",
			want: "a='" + root + "/a.csv'\nb=\"" + root + "/b.xlsx\"",
		},
		{name: "longer segment untouched", in: "/mnt/database/x", want: "/mnt/database/x"},
		{name: "dotted suffix untouched", in: "/mnt/data.bak", want: "/mnt/data.bak"},
		{name: "nested under other path untouched", in: "/home/u/mnt/data/x", want: "/home/u/mnt/data/x"},
		{name: "relative path untouched", in: "./mnt/data/x", want: "./mnt/data/x"},
		{name: "identifier prefix untouched", in: "x/mnt/data", want: "x/mnt/data"},
		{name: "sqlite url", in: "create_engine('sqlite:///mnt/data/app.db')", want: "create_engine('sqlite://" + root + "/app.db')"},
		{name: "file url", in: "file:///mnt/data/x", want: "file://" + root + "/x"},
		{name: "doubled leading slash kept", in: "open('//mnt/data/x')", want: "open('/" + root + "/x')"},
		{name: "windows style neighbour", in: "path=/mnt/data;other", want: "path=" + root + ";other"},
		{name: "empty", in: "", want: ""},
		{name: "no match", in: "print('hello')", want: "print('hello')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPhysical(tt.in, virtual, root))
		})
	}
}

func TestToVirtual(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "traceback", in: "FileNotFoundError: '" + root + "/missing.csv'", want: "FileNotFoundError: '/mnt/data/missing.csv'"},
		{name: "bare root", in: root, want: virtual},
		{name: "sibling session untouched", in: root + "0/a.csv", want: root + "0/a.csv"},
		{name: "sibling with suffix untouched", in: root + "-old/a.csv", want: root + "-old/a.csv"},
		{name: "every occurrence", in: root + " " + root + "/x", want: virtual + " " + virtual + "/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToVirtual(tt.in, root, virtual))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	texts := []string{
		"",
		"df.to_excel('/mnt/data/out.xlsx')",
		"import os\nfor f in os.listdir('/mnt/data'):\n    print('/mnt/data/' + f)",
		"/mnt/data /mnt/data/ /mnt/data/a/b/c.pdf",
		"/mnt/database stays",
		"销售 /mnt/data/数据.csv",
		"url = 'http://host/mnt/data/x'",
		"create_engine('sqlite:///mnt/data/x.db')",
		"file:///mnt/data/x",
		"open('//mnt/data/a.csv')",
	}

	tr := New(virtual, root)
	for _, text := range texts {
		assert.Equal(t, text, tr.ToVirtual(tr.ToPhysical(text)), "text %q", text)
		assert.Equal(t, text, ToVirtual(ToPhysical(text, virtual, root), root, virtual), "text %q", text)
	}
}

func TestNewTrimsTrailingSlashes(t *testing.T) {
	tr := New("/mnt/data/", root+"/")
	assert.Equal(t, virtual, tr.Virtual())
	assert.Equal(t, root, tr.Physical())
	assert.Equal(t, root+"/a.csv", tr.ToPhysical("/mnt/data/a.csv"))
}

func TestRootPrefixIsNoop(t *testing.T) {
	tr := New("/", root)
	assert.Equal(t, "/etc/passwd", tr.ToPhysical("/etc/passwd"))
}
