package model

// Provenance 是所有观测型工件共有的溯源字段。
// DiscoveredBy 标识产出该行的提取器；SourcePath 指回证据内的原始位置；
// RunID 把同一次提取运行的所有行关联起来。
type Provenance struct {
	DiscoveredBy string
	SourcePath   string
	RunID        string
}

// URLRecord 是一次 URL 观测。同一 URL 被不同来源、不同运行
// 甚至同一运行重复发现时，各算一条独立记录（观测即证据）。
type URLRecord struct {
	ID           int64
	EvidenceID   int64
	URL          string
	Domain       string
	Scheme       string
	FirstSeenUTC string
	LastSeenUTC  string
	Context      string
	ResponseCode int64
	ContentType  string
	Notes        string
	Provenance
}

// HistoryRecord 是一条浏览器访问记录。
type HistoryRecord struct {
	ID             int64
	EvidenceID     int64
	URL            string
	Title          string
	TsUTC          string
	Browser        string
	Profile        string
	VisitCount     int64
	TypedCount     int64
	TransitionType int64
	FromVisit      int64
	Hidden         bool
	Provenance
}

// CookieRecord 是一条 Cookie 观测。
type CookieRecord struct {
	ID            int64
	EvidenceID    int64
	Browser       string
	Profile       string
	Name          string
	Value         string
	Domain        string
	Path          string
	ExpiresUTC    string
	CreationUTC   string
	LastAccessUTC string
	Secure        bool
	HTTPOnly      bool
	Provenance
}

// DownloadRecord 是一条浏览器下载记录。
type DownloadRecord struct {
	ID           int64
	EvidenceID   int64
	Browser      string
	Profile      string
	URL          string
	TargetPath   string
	Filename     string
	StartTimeUTC string
	EndTimeUTC   string
	TotalBytes   int64
	State        string
	Provenance
}

// BookmarkRecord 是一条浏览器书签。
type BookmarkRecord struct {
	ID           int64
	EvidenceID   int64
	Browser      string
	Profile      string
	URL          string
	Title        string
	FolderPath   string
	DateAddedUTC string
	Provenance
}

// OSIndicator 是从镜像中识别出的操作系统痕迹（注册表、版本串等）。
type OSIndicator struct {
	ID            int64
	EvidenceID    int64
	Type          string
	Name          string
	Value         string
	Confidence    string
	DetectedAtUTC string
	Provenance
}

// ImageRecord 是一张图像内容实体。
// 去重键是 (evidence_id, sha256)：同一份字节内容在一个证据里只存一行，
// 每次被发现的上下文记在 ImageDiscovery。
type ImageRecord struct {
	ID                int64
	EvidenceID        int64
	RelPath           string
	Filename          string
	MD5               string
	SHA256            string
	PHash             string
	SizeBytes         int64
	ExifJSON          string
	TsUTC             string
	Notes             string
	FirstDiscoveredBy string
	FirstDiscoveredAt string
}

// ImageDiscovery 记录图像的一次发现：哪个提取器、哪次运行、在哪里。
// 图像本体去重，发现过程不去重。
type ImageDiscovery struct {
	ID               int64
	EvidenceID       int64
	ImageID          int64
	DiscoveredBy     string
	RunID            string
	DiscoveredAtUTC  string
	FSPath           string
	FSMtimeUTC       string
	CarvedOffset     int64
	SourceMetaJSON   string
	ExtractorVersion string
}

// FileEntry 是虚拟文件系统清单中的一行。
type FileEntry struct {
	ID             int64
	EvidenceID     int64
	PartitionIndex int64
	FilePath       string
	Filename       string
	Extension      string
	SizeBytes      int64
	MtimeUTC       string
	CrtimeUTC      string
	MD5            string
	SHA256         string
	FSType         string
	Provenance
}

// FileMatch 是文件清单行命中参考名单（哈希库/模式库）的结果。
// 父行删除时随之级联清理。
type FileMatch struct {
	ID           int64
	EvidenceID   int64
	FileID       int64
	ListName     string
	MatchType    string
	MatchedValue string
	CreatedAtUTC string
	RunID        string
}

// Run 是一次提取运行的登记信息。
type Run struct {
	RunID         string
	EvidenceID    int64
	Extractor     string
	StartedAtUTC  string
	FinishedAtUTC string
	Status        string
	ItemsInserted int64
	Error         string
}
