package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"surfsifter/internal/adapters/rules"
	"surfsifter/internal/adapters/safari"
	sqliteadapter "surfsifter/internal/adapters/store/sqlite"
	"surfsifter/internal/app"
	"surfsifter/internal/domain/model"
	"surfsifter/internal/platform/hash"
	"surfsifter/internal/services/matcher"
	"surfsifter/internal/services/timeline"
)

// CLI 入口。所有子命令错误都统一输出到 stderr 并返回非 0 状态码。
func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run 是一级命令路由。
func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runMigrate(ctx, args[1:])
	case "case":
		return runCase(ctx, args[1:])
	case "evidence":
		return runEvidence(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "timeline":
		return runTimeline(ctx, args[1:])
	case "tag":
		return runTag(ctx, args[1:])
	case "similar":
		return runSimilar(ctx, args[1:])
	case "match":
		return runMatch(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "urls":
		return runURLs(ctx, args[1:])
	case "indicators":
		return runIndicators(ctx, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// managerFlags 绑定所有子命令共用的案件定位参数。
type managerFlags struct {
	caseFolder *string
	caseID     *string
	noSplit    *bool
}

func bindManagerFlags(fs *flag.FlagSet) managerFlags {
	return managerFlags{
		caseFolder: fs.String("case-dir", ".", "case folder"),
		caseID:     fs.String("case-id", "", "case id (required to create; otherwise discovered from folder)"),
		noSplit:    fs.Bool("no-split", false, "store evidence data inside the case database"),
	}
}

// openManager 按参数定位案件库并构造管理器。
// case-id 给了就按命名约定推导路径，否则在目录里找现有案件库。
func (f managerFlags) openManager() (*sqliteadapter.Manager, error) {
	cfg := app.DefaultConfig(*f.caseFolder)
	cfg.EnableSplit = !*f.noSplit

	if strings.TrimSpace(*f.caseID) != "" {
		cfg.CaseDBPath = sqliteadapter.CaseDBPathFor(cfg.CaseFolder, strings.TrimSpace(*f.caseID))
	} else {
		found, err := sqliteadapter.FindCaseDatabase(cfg.CaseFolder)
		if err != nil {
			return nil, fmt.Errorf("locate case database in %s: %w", cfg.CaseFolder, err)
		}
		cfg.CaseDBPath = found
	}
	return sqliteadapter.NewManager(cfg.CaseFolder, cfg.CaseDBPath, cfg.EnableSplit)
}

// evidenceConn 打开证据连接，标签缺省时从案件库回查。
func evidenceConn(ctx context.Context, m *sqliteadapter.Manager, s *sqliteadapter.Session, evidenceID int64, label string) (*sql.DB, error) {
	if label == "" {
		caseDB, err := m.CaseConn(ctx, s)
		if err != nil {
			return nil, err
		}
		label = sqliteadapter.EvidenceLabel(ctx, caseDB, evidenceID)
	}
	return m.EvidenceConn(ctx, s, evidenceID, label)
}

// runMigrate 把案件库（以及指定证据库）的结构推进到最新版本。
func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "also migrate this evidence database")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	if _, err := m.CaseConn(ctx, s); err != nil {
		return fmt.Errorf("migrate case database: %w", err)
	}
	fmt.Printf("case database migrated: %s\n", m.CaseDBPath())

	if *evidenceID > 0 {
		if _, err := evidenceConn(ctx, m, s, *evidenceID, *label); err != nil {
			return fmt.Errorf("migrate evidence database: %w", err)
		}
		fmt.Printf("evidence database migrated: evidence_id=%d\n", *evidenceID)
	}
	return nil
}

// runCase 是二级命令路由：case create / case show。
func runCase(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printCaseUsage()
		return nil
	}
	switch args[0] {
	case "create":
		return runCaseCreate(ctx, args[1:])
	case "show":
		return runCaseShow(ctx, args[1:])
	default:
		printCaseUsage()
		return fmt.Errorf("unknown case command: %s", args[0])
	}
}

func runCaseCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("case create", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	title := fs.String("title", "", "case title")
	investigator := fs.String("investigator", "", "investigator name")
	notes := fs.String("notes", "", "case notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*mf.caseID) == "" {
		return fmt.Errorf("--case-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := m.CaseConn(ctx, s)
	if err != nil {
		return err
	}
	if err := sqliteadapter.EnsureCase(ctx, db, model.Case{
		CaseID:       strings.TrimSpace(*mf.caseID),
		Title:        *title,
		Investigator: *investigator,
		Notes:        *notes,
	}); err != nil {
		return err
	}
	fmt.Printf("case ready: id=%s db=%s\n", strings.TrimSpace(*mf.caseID), m.CaseDBPath())
	return nil
}

func runCaseShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("case show", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := m.CaseConn(ctx, s)
	if err != nil {
		return err
	}
	cases, err := sqliteadapter.ListCases(ctx, db)
	if err != nil {
		return err
	}
	for _, c := range cases {
		fmt.Printf("case %s: %s (investigator=%s, updated=%s)\n", c.CaseID, c.Title, c.Investigator, c.UpdatedAtUTC)
		evs, err := sqliteadapter.ListEvidences(ctx, db, c.CaseID)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			fmt.Printf("  evidence %d: %s source=%s added=%s\n", ev.ID, ev.Label, ev.SourcePath, ev.AddedAtUTC)
		}
	}
	return nil
}

// runEvidence 是二级命令路由：evidence add / evidence list。
func runEvidence(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printEvidenceUsage()
		return nil
	}
	switch args[0] {
	case "add":
		return runEvidenceAdd(ctx, args[1:])
	case "list":
		return runEvidenceList(ctx, args[1:])
	default:
		printEvidenceUsage()
		return fmt.Errorf("unknown evidence command: %s", args[0])
	}
}

func runEvidenceAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evidence add", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	label := fs.String("label", "", "evidence label (required)")
	source := fs.String("source", "", "source image or directory path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*label) == "" {
		return fmt.Errorf("--label is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := m.CaseConn(ctx, s)
	if err != nil {
		return err
	}
	cases, err := sqliteadapter.ListCases(ctx, db)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("no case registered, run `case create` first")
	}
	evidenceID, err := sqliteadapter.AddEvidence(ctx, db, cases[0].CaseID, *label, *source)
	if err != nil {
		return err
	}

	// 立即建出证据库，后续提取器可以直接写入。
	if _, err := m.EvidenceConn(ctx, s, evidenceID, *label); err != nil {
		return err
	}
	dbPath, err := m.EvidenceDBPath(evidenceID, *label, false)
	if err != nil {
		return err
	}
	if !m.SplitEnabled() {
		dbPath = m.CaseDBPath()
	}
	fmt.Printf("evidence added: id=%d label=%s db=%s\n", evidenceID, *label, dbPath)
	return nil
}

func runEvidenceList(ctx context.Context, args []string) error {
	return runCaseShow(ctx, args)
}

// runImport 是二级命令路由：import safari-bookmarks / import image。
func runImport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printImportUsage()
		return nil
	}
	switch args[0] {
	case "safari-bookmarks":
		return runImportSafariBookmarks(ctx, args[1:])
	case "image":
		return runImportImage(ctx, args[1:])
	default:
		printImportUsage()
		return fmt.Errorf("unknown import command: %s", args[0])
	}
}

func runImportSafariBookmarks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import safari-bookmarks", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	file := fs.String("file", "", "path to Bookmarks.plist (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}
	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("--file is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	runID, err := sqliteadapter.StartRun(ctx, db, *evidenceID, "safari_bookmarks")
	if err != nil {
		return err
	}
	n, importErr := safari.ImportBookmarksFile(ctx, db, *evidenceID, *file, runID)
	if err := sqliteadapter.FinishRun(ctx, db, runID, n, importErr); err != nil {
		return err
	}
	if importErr != nil {
		return importErr
	}
	fmt.Printf("imported %d bookmarks (run=%s)\n", n, runID)
	return nil
}

// runImportImage 把一个图像文件登记为内容实体：内容 SHA-256 去重，
// 重复导入只追加发现记录。
func runImportImage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import image", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	file := fs.String("file", "", "image file path (required)")
	phashHex := fs.String("phash", "", "precomputed perceptual hash, 16 hex chars (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*file) == "" {
		return fmt.Errorf("--evidence-id and --file are required")
	}

	sum, size, err := hash.File(*file)
	if err != nil {
		return fmt.Errorf("hash image: %w", err)
	}
	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	runID, err := sqliteadapter.StartRun(ctx, db, *evidenceID, "manual_image")
	if err != nil {
		return err
	}
	imageID, created, insertErr := sqliteadapter.InsertImageWithDiscovery(ctx, db,
		model.ImageRecord{
			EvidenceID: *evidenceID,
			Filename:   filepath.Base(*file),
			SHA256:     sum,
			PHash:      strings.TrimSpace(*phashHex),
			SizeBytes:  size,
		},
		model.ImageDiscovery{
			EvidenceID:   *evidenceID,
			DiscoveredBy: "manual_image",
			RunID:        runID,
			FSPath:       *file,
		})
	var items int64
	if insertErr == nil && created {
		items = 1
	}
	if err := sqliteadapter.FinishRun(ctx, db, runID, items, insertErr); err != nil {
		return err
	}
	if insertErr != nil {
		return insertErr
	}
	if created {
		fmt.Printf("image stored: id=%d sha256=%s\n", imageID, sum)
	} else {
		fmt.Printf("image already known: id=%d sha256=%s (discovery recorded)\n", imageID, sum)
	}
	return nil
}

// runTimeline 是二级命令路由：timeline build / timeline show。
func runTimeline(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printTimelineUsage()
		return nil
	}
	switch args[0] {
	case "build":
		return runTimelineBuild(ctx, args[1:])
	case "show":
		return runTimelineShow(ctx, args[1:])
	default:
		printTimelineUsage()
		return fmt.Errorf("unknown timeline command: %s", args[0])
	}
}

func runTimelineBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("timeline build", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	configPath := fs.String("config", "", "timeline fusion config (yaml, optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	// --config 未给时，案件目录下的 timeline.yaml 存在就用它。
	path := *configPath
	if path == "" {
		candidate := app.DefaultConfig(*mf.caseFolder).TimelineConfigPath
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := timeline.LoadConfig(path)
	if err != nil {
		return err
	}
	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	total, err := timeline.NewEngine(cfg).Rebuild(ctx, db, *evidenceID, func(source string, events int) {
		fmt.Printf("  %s: %d events\n", source, events)
	})
	if err != nil {
		return err
	}
	fmt.Printf("timeline rebuilt: %d events (config=%s)\n", total, cfg.Fingerprint())
	return nil
}

func runTimelineShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("timeline show", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	kind := fs.String("kind", "", "filter by event kind")
	since := fs.String("since", "", "lower bound timestamp (ISO-8601 UTC)")
	until := fs.String("until", "", "upper bound timestamp (ISO-8601 UTC)")
	limit := fs.Int("limit", 100, "max events to print")
	asJSON := fs.Bool("json", false, "print as json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	events, err := sqliteadapter.GetTimeline(ctx, db, *evidenceID, sqliteadapter.TimelineFilter{
		Kind: *kind, SinceUTC: *since, UntilUTC: *until, Limit: *limit,
	})
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(events)
	}
	for _, e := range events {
		fmt.Printf("%s [%s/%s] %s (%s#%d)\n", e.TsUTC, e.Kind, e.Confidence, e.Note, e.RefTable, e.RefID)
	}
	return nil
}

// runTag 是二级命令路由：tag add / list / merge / rename / delete。
func runTag(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printTagUsage()
		return nil
	}
	switch args[0] {
	case "add":
		return runTagAdd(ctx, args[1:])
	case "list":
		return runTagList(ctx, args[1:])
	case "merge":
		return runTagMerge(ctx, args[1:])
	case "rename":
		return runTagRename(ctx, args[1:])
	case "delete":
		return runTagDelete(ctx, args[1:])
	default:
		printTagUsage()
		return fmt.Errorf("unknown tag command: %s", args[0])
	}
}

func runTagAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tag add", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	name := fs.String("name", "", "tag name (required)")
	artifactType := fs.String("type", "", "artifact type, e.g. url|browser_history|image (required)")
	artifactID := fs.Int64("id", 0, "artifact row id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*name) == "" || *artifactType == "" || *artifactID <= 0 {
		return fmt.Errorf("--evidence-id, --name, --type and --id are required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	tag, err := sqliteadapter.TagArtifact(ctx, db, *evidenceID, *name, *artifactType, *artifactID, "manual")
	if err != nil {
		return err
	}
	fmt.Printf("tagged %s#%d with %q\n", *artifactType, *artifactID, tag.Name)
	return nil
}

func runTagList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tag list", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	tags, err := sqliteadapter.ListTags(ctx, db, *evidenceID)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		fmt.Printf("%s (used %d times, by %s)\n", tag.Name, tag.UsageCount, tag.CreatedBy)
	}
	return nil
}

func runTagMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tag merge", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	into := fs.String("into", "", "target tag name (required)")
	from := fs.String("from", "", "comma-separated source tag names (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*into) == "" || strings.TrimSpace(*from) == "" {
		return fmt.Errorf("--evidence-id, --into and --from are required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	sources := []string{}
	for _, name := range strings.Split(*from, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			sources = append(sources, trimmed)
		}
	}
	tag, err := sqliteadapter.MergeTags(ctx, db, *evidenceID, *into, sources)
	if err != nil {
		return err
	}
	fmt.Printf("merged into %q: now used %d times\n", tag.Name, tag.UsageCount)
	return nil
}

func runTagRename(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tag rename", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	from := fs.String("from", "", "current tag name (required)")
	to := fs.String("to", "", "new tag name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*from) == "" || strings.TrimSpace(*to) == "" {
		return fmt.Errorf("--evidence-id, --from and --to are required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RenameTag(ctx, db, *evidenceID, *from, *to); err != nil {
		return err
	}
	fmt.Printf("renamed tag %q to %q\n", *from, *to)
	return nil
}

func runTagDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tag delete", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	name := fs.String("name", "", "tag name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*name) == "" {
		return fmt.Errorf("--evidence-id and --name are required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	if err := sqliteadapter.DeleteTag(ctx, db, *evidenceID, *name); err != nil {
		return err
	}
	fmt.Printf("deleted tag %q\n", *name)
	return nil
}

// runSimilar 对证据内图像做感知哈希近邻检索。
func runSimilar(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("similar", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	target := fs.String("phash", "", "target perceptual hash, 16 hex chars (required)")
	maxDistance := fs.Int("max-distance", 8, "maximum hamming distance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*target) == "" {
		return fmt.Errorf("--evidence-id and --phash are required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	hits, err := sqliteadapter.SimilarImages(ctx, db, *evidenceID, *target, *maxDistance)
	if err != nil {
		return err
	}
	for _, hit := range hits {
		fmt.Printf("distance=%d sha256=%s file=%s\n", hit.Distance, hit.Image.SHA256, hit.Image.Filename)
	}
	if len(hits) == 0 {
		fmt.Println("no similar images found")
	}
	return nil
}

// runMatch 把参考名单（哈希/文件名模式）与证据文件清单比对并落库。
func runMatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	listFile := fs.String("list", "", "reference list yaml file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 || strings.TrimSpace(*listFile) == "" {
		return fmt.Errorf("--evidence-id and --list are required")
	}

	loaded, err := rules.NewLoader(*listFile).Load(ctx)
	if err != nil {
		return err
	}
	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	runID, err := sqliteadapter.StartRun(ctx, db, *evidenceID, "reference_match")
	if err != nil {
		return err
	}
	n, matchErr := matcher.MatchAndStore(ctx, db, *evidenceID, loaded, runID)
	if err := sqliteadapter.FinishRun(ctx, db, runID, n, matchErr); err != nil {
		return err
	}
	if matchErr != nil {
		return matchErr
	}
	fmt.Printf("matched %d files against %s (sha256=%s, run=%s)\n", n, loaded.List.Name, loaded.SHA256, runID)
	return nil
}

// runRuns 列出证据下的提取运行记录。
func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	runs, err := sqliteadapter.ListRuns(ctx, db, *evidenceID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s %s [%s] items=%d started=%s", r.RunID, r.Extractor, r.Status, r.ItemsInserted, r.StartedAtUTC)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

// runURLs 查询 URL 观测记录。
func runURLs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("urls", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	contains := fs.String("contains", "", "substring filter on the url")
	domain := fs.String("domain", "", "exact domain filter")
	limit := fs.Int("limit", 100, "max rows to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	records, err := sqliteadapter.GetURLs(ctx, db, *evidenceID, sqliteadapter.URLFilter{
		Contains: *contains, Domain: *domain, Limit: *limit,
	})
	if err != nil {
		return err
	}
	total, err := sqliteadapter.CountURLs(ctx, db, *evidenceID)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("#%d %s (by %s, run=%s)\n", r.ID, r.URL, r.DiscoveredBy, r.RunID)
	}
	fmt.Printf("%d shown of %d total\n", len(records), total)
	return nil
}

// runIndicators 查询操作系统痕迹。
func runIndicators(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("indicators", flag.ContinueOnError)
	mf := bindManagerFlags(fs)
	evidenceID := fs.Int64("evidence-id", 0, "target evidence id (required)")
	label := fs.String("label", "", "evidence label (defaults to the registered one)")
	indicatorType := fs.String("type", "", "filter by indicator type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evidenceID <= 0 {
		return fmt.Errorf("--evidence-id is required")
	}

	m, err := mf.openManager()
	if err != nil {
		return err
	}
	defer m.CloseAll()
	s := m.Session()
	defer s.Close()

	db, err := evidenceConn(ctx, m, s, *evidenceID, *label)
	if err != nil {
		return err
	}
	indicators, err := sqliteadapter.GetOSIndicators(ctx, db, *evidenceID, *indicatorType)
	if err != nil {
		return err
	}
	for _, ind := range indicators {
		fmt.Printf("[%s] %s=%s confidence=%s detected=%s\n", ind.Type, ind.Name, ind.Value, ind.Confidence, ind.DetectedAtUTC)
	}
	return nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// printUsage 输出一级命令帮助。
func printUsage() {
	fmt.Println(`surfsifter-cli <command>

commands:
  migrate    apply schema migrations to the case (and optionally evidence) database
  case       case create|show
  evidence   evidence add|list
  import     import safari-bookmarks|image
  timeline   timeline build|show
  tag        tag add|list|merge|rename|delete
  similar    find perceptually similar images
  match      match the file list against a reference list
  runs       list extraction runs for an evidence
  urls       list url observations for an evidence
  indicators list operating system indicators for an evidence`)
}

func printCaseUsage() {
	fmt.Println("case create --case-id <id> [--title ...] | case show")
}

func printEvidenceUsage() {
	fmt.Println("evidence add --label <label> [--source ...] | evidence list")
}

func printImportUsage() {
	fmt.Println("import safari-bookmarks --evidence-id <id> --file <Bookmarks.plist> | import image --evidence-id <id> --file <path>")
}

func printTimelineUsage() {
	fmt.Println("timeline build --evidence-id <id> [--config timeline.yaml] | timeline show --evidence-id <id>")
}

func printTagUsage() {
	fmt.Println("tag add|list|merge|rename|delete --evidence-id <id> ...")
}
