package vzfs

// Command is the marker every request the Operator accepts implements.
// Each concrete type below corresponds to one row of the command table:
// the payload the Operator needs to run one resolve→lock→mutate→release
// cycle.
type Command interface {
	commandName() string
}

// Reply is the marker every response the Operator emits implements. Apart
// from AwaitingCommandSignal, every concrete reply type is a *Success or
// *Failure, mirroring the event names a host listening on Replies() would
// switch on.
type Reply interface {
	replyName() string
}

type baseCmd struct{ name string }

func (c baseCmd) commandName() string { return c.name }

// InitCmd opens or upgrades a named filesystem and seeds its root.
type InitCmd struct {
	baseCmd
	FilesystemName string
	Version        int
}

func NewInitCmd(fsName string, version int) *InitCmd {
	return &InitCmd{baseCmd: baseCmd{"init"}, FilesystemName: fsName, Version: version}
}

// ListFilesystemsCmd enumerates every filesystem visible to the origin.
type ListFilesystemsCmd struct{ baseCmd }

func NewListFilesystemsCmd() *ListFilesystemsCmd {
	return &ListFilesystemsCmd{baseCmd{"listFilesystems"}}
}

type ListFilesystemsSuccess struct {
	Filesystems []string
}

type ListFilesystemsFailure struct {
	Err error
}

// DropFilesystemCmd deletes a named filesystem's backing database.
type DropFilesystemCmd struct {
	baseCmd
	FsName string
}

func NewDropFilesystemCmd(fsName string) *DropFilesystemCmd {
	return &DropFilesystemCmd{baseCmd{"dropFilesystem"}, fsName}
}

type DropFilesystemSuccess struct{}
type DropFilesystemFailure struct {
	Err error
}

// RestoreFilesystemFromJSONCmd creates a fresh filesystem and populates it
// from a previously exported backup.
type RestoreFilesystemFromJSONCmd struct {
	baseCmd
	FsName  string
	Version int
	Backup  string
}

func NewRestoreFilesystemFromJSONCmd(fsName string, version int, backup string) *RestoreFilesystemFromJSONCmd {
	return &RestoreFilesystemFromJSONCmd{baseCmd{"restoreFilesystemFromJSON"}, fsName, version, backup}
}

type RestoreFilesystemFromJSONSuccess struct{}
type RestoreFilesystemFromJSONFailure struct {
	Err error
}

// ChangeDirectoryCmd updates the Operator's in-memory cwd.
type ChangeDirectoryCmd struct {
	baseCmd
	NewDirectoryPath string
}

func NewChangeDirectoryCmd(newDir string) *ChangeDirectoryCmd {
	return &ChangeDirectoryCmd{baseCmd{"changeDirectory"}, newDir}
}

type ChangeDirectorySuccess struct {
	Cwd string
}

type ChangeDirectoryFailure struct {
	Err error
}

// CreateFileCmd creates a new leaf.
type CreateFileCmd struct {
	baseCmd
	Name       string
	ParentPath string
	Content    []byte
}

func NewCreateFileCmd(name, parentPath string, content []byte) *CreateFileCmd {
	return &CreateFileCmd{baseCmd{"createFile"}, name, parentPath, content}
}

type CreateFileSuccess struct {
	NewFilePath string
}

type CreateFileFailure struct {
	Err error
}

// ReadFileCmd reads a leaf's entity row joined with its content.
type ReadFileCmd struct {
	baseCmd
	Path string
}

func NewReadFileCmd(path string) *ReadFileCmd {
	return &ReadFileCmd{baseCmd{"readFile"}, path}
}

type ReadFileSuccess struct {
	File *File
}

type ReadFileFailure struct {
	Err error
}

// UpdateFileTimestampCmd bumps a leaf's updatedAt without touching content.
type UpdateFileTimestampCmd struct {
	baseCmd
	Path string
}

func NewUpdateFileTimestampCmd(path string) *UpdateFileTimestampCmd {
	return &UpdateFileTimestampCmd{baseCmd{"updateFileTimestamp"}, path}
}

type UpdateFileTimestampSuccess struct{}
type UpdateFileTimestampFailure struct {
	Err error
}

// UpdateFileContentCmd overwrites a leaf's content.
type UpdateFileContentCmd struct {
	baseCmd
	Path    string
	Content []byte
}

func NewUpdateFileContentCmd(path string, content []byte) *UpdateFileContentCmd {
	return &UpdateFileContentCmd{baseCmd{"updateFileContent"}, path, content}
}

type UpdateFileSuccess struct{}
type UpdateFileFailure struct {
	Err error
}

// DeleteFileCmd removes a leaf and its content.
type DeleteFileCmd struct {
	baseCmd
	Path string
}

func NewDeleteFileCmd(path string) *DeleteFileCmd {
	return &DeleteFileCmd{baseCmd{"deleteFile"}, path}
}

type DeleteFileSuccess struct{}
type DeleteFileFailure struct {
	Err error
}

// CreateDirectoryCmd creates a new directory.
type CreateDirectoryCmd struct {
	baseCmd
	Name       string
	ParentPath string
}

func NewCreateDirectoryCmd(name, parentPath string) *CreateDirectoryCmd {
	return &CreateDirectoryCmd{baseCmd{"createDirectory"}, name, parentPath}
}

type CreateDirectorySuccess struct{}
type CreateDirectoryFailure struct {
	Err error
}

// GetDirectoryRecordCmd reads a directory's entity and child keys. With
// HasPath false (NewGetDirectoryRecordCmdAtCwd) it lists the current
// directory instead, matching the spec's no-payload form.
type GetDirectoryRecordCmd struct {
	baseCmd
	Path    string
	HasPath bool
}

func NewGetDirectoryRecordCmd(path string) *GetDirectoryRecordCmd {
	return &GetDirectoryRecordCmd{baseCmd: baseCmd{"getDirectoryRecord"}, Path: path, HasPath: true}
}

func NewGetDirectoryRecordCmdAtCwd() *GetDirectoryRecordCmd {
	return &GetDirectoryRecordCmd{baseCmd: baseCmd{"getDirectoryRecord"}, HasPath: false}
}

type GetDirectoryRecordSuccess struct {
	Entity    *Entity
	ChildKeys []string
	Cwd       string
}

type GetDirectoryRecordFailure struct {
	Err error
}

// EmptyDirectoryCmd deletes every descendant of a directory.
type EmptyDirectoryCmd struct {
	baseCmd
	Path string
}

func NewEmptyDirectoryCmd(path string) *EmptyDirectoryCmd {
	return &EmptyDirectoryCmd{baseCmd{"emptyDirectory"}, path}
}

type EmptyDirectorySuccess struct{}
type EmptyDirectoryFailure struct {
	Err error
}

// DeleteDirectoryIfEmptyCmd deletes a directory if it has no children.
type DeleteDirectoryIfEmptyCmd struct {
	baseCmd
	Path string
}

func NewDeleteDirectoryIfEmptyCmd(path string) *DeleteDirectoryIfEmptyCmd {
	return &DeleteDirectoryIfEmptyCmd{baseCmd{"deleteDirectoryIfEmpty"}, path}
}

type DeleteDirectoryIfEmptySuccess struct{}
type DeleteDirectoryIfEmptyFailure struct {
	Err error
}

// RipFilesystemToJSONCmd exports every object store to a single JSON blob.
type RipFilesystemToJSONCmd struct{ baseCmd }

func NewRipFilesystemToJSONCmd() *RipFilesystemToJSONCmd {
	return &RipFilesystemToJSONCmd{baseCmd{"ripFilesystemToJSON"}}
}

type RipFilesystemToJSONSuccess struct {
	Backup string
}

type RipFilesystemToJSONFailure struct {
	Err error
}

// CloseCmd is terminal: on success the Operator re-enters uninitialized.
type CloseCmd struct{ baseCmd }

func NewCloseCmd() *CloseCmd { return &CloseCmd{baseCmd{"close"}} }

type CloseSuccess struct{}

// RenameFileCmd and ReparentLeafCmd round out the Tree Ops surface spec.md
// names but the command table leaves implicit under createFile/deleteFile
// composition; exposed directly here since the Operator's Tree Ops layer
// implements them as primitive, lock-covered operations in their own
// right, not as a client-visible delete+create pair.
type RenameFileCmd struct {
	baseCmd
	OldPath string
	NewName string
}

func NewRenameFileCmd(oldPath, newName string) *RenameFileCmd {
	return &RenameFileCmd{baseCmd{"renameFile"}, oldPath, newName}
}

type RenameFileSuccess struct {
	NewPath string
}

type RenameFileFailure struct {
	Err error
}

// ReparentLeafCmd moves a leaf to a new parent directory.
type ReparentLeafCmd struct {
	baseCmd
	Path          string
	NewParentPath string
}

func NewReparentLeafCmd(path, newParentPath string) *ReparentLeafCmd {
	return &ReparentLeafCmd{baseCmd{"reparentLeaf"}, path, newParentPath}
}

type ReparentLeafSuccess struct {
	NewPath string
}

type ReparentLeafFailure struct {
	Err error
}

// TransplantAncestorsCmd moves an entire directory subtree.
type TransplantAncestorsCmd struct {
	baseCmd
	OldPath string
	NewPath string
}

func NewTransplantAncestorsCmd(oldPath, newPath string) *TransplantAncestorsCmd {
	return &TransplantAncestorsCmd{baseCmd{"transplantAncestors"}, oldPath, newPath}
}

type TransplantAncestorsSuccess struct {
	NewPath string
}

type TransplantAncestorsFailure struct {
	Err error
}

func (*ListFilesystemsSuccess) replyName() string            { return "listFilesystemsSuccess" }
func (*ListFilesystemsFailure) replyName() string            { return "listFilesystemsFailure" }
func (*DropFilesystemSuccess) replyName() string             { return "dropFilesystemSuccess" }
func (*DropFilesystemFailure) replyName() string             { return "dropFilesystemFailure" }
func (*RestoreFilesystemFromJSONSuccess) replyName() string  { return "restoreFilesystemFromJSONSuccess" }
func (*RestoreFilesystemFromJSONFailure) replyName() string  { return "restoreFilesystemFromJSONFailure" }
func (*ChangeDirectorySuccess) replyName() string            { return "changeDirectorySuccess" }
func (*ChangeDirectoryFailure) replyName() string            { return "changeDirectoryFailure" }
func (*CreateFileSuccess) replyName() string                 { return "createFileSuccess" }
func (*CreateFileFailure) replyName() string                 { return "createFileFailure" }
func (*ReadFileSuccess) replyName() string                   { return "readFileSuccess" }
func (*ReadFileFailure) replyName() string                   { return "readFileFailure" }
func (*UpdateFileTimestampSuccess) replyName() string        { return "updateFileTimestampSuccess" }
func (*UpdateFileTimestampFailure) replyName() string        { return "updateFileTimestampFailure" }
func (*UpdateFileSuccess) replyName() string                 { return "updateFileSuccess" }
func (*UpdateFileFailure) replyName() string                 { return "updateFileFailure" }
func (*DeleteFileSuccess) replyName() string                 { return "deleteFileSuccess" }
func (*DeleteFileFailure) replyName() string                 { return "deleteFileFailure" }
func (*CreateDirectorySuccess) replyName() string            { return "createDirectorySuccess" }
func (*CreateDirectoryFailure) replyName() string            { return "createDirectoryFailure" }
func (*GetDirectoryRecordSuccess) replyName() string         { return "getDirectoryRecordSuccess" }
func (*GetDirectoryRecordFailure) replyName() string         { return "getDirectoryRecordFailure" }
func (*EmptyDirectorySuccess) replyName() string              { return "emptyDirectorySuccess" }
func (*EmptyDirectoryFailure) replyName() string              { return "emptyDirectoryFailure" }
func (*DeleteDirectoryIfEmptySuccess) replyName() string      { return "deleteDirectoryIfEmptySuccess" }
func (*DeleteDirectoryIfEmptyFailure) replyName() string      { return "deleteDirectoryIfEmptyFailure" }
func (*RipFilesystemToJSONSuccess) replyName() string         { return "ripFilesystemToJSONSuccess" }
func (*RipFilesystemToJSONFailure) replyName() string         { return "ripFilesystemToJSONFailure" }
func (*CloseSuccess) replyName() string                       { return "closeSuccess" }
func (*RenameFileSuccess) replyName() string                  { return "renameFileSuccess" }
func (*RenameFileFailure) replyName() string                  { return "renameFileFailure" }
func (*ReparentLeafSuccess) replyName() string                { return "reparentLeafSuccess" }
func (*ReparentLeafFailure) replyName() string                { return "reparentLeafFailure" }
func (*TransplantAncestorsSuccess) replyName() string         { return "transplantAncestorsSuccess" }
func (*TransplantAncestorsFailure) replyName() string         { return "transplantAncestorsFailure" }

// AwaitingCommandSignal is emitted on every entry to awaitingCommand, the
// Go rendition of the spec's vzfsAwaitingCommand event.
type AwaitingCommandSignal struct{}

func (*AwaitingCommandSignal) replyName() string { return "vzfsAwaitingCommand" }
