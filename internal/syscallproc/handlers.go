// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package syscallproc

import (
	"io"
	"strconv"

	"faasten/internal/fsutil"
	"faasten/internal/githubapi"
	"faasten/internal/label"
	"faasten/internal/objstore"
	"faasten/internal/wire"
)

const defaultReadBlobChunk = 64 * 1024

func (p *Processor) parsePath(raw string) (fsutil.Path, error) {
	return fsutil.Parse(raw, p.task.CurrentLabel, p.homeFacet)
}

// parseBuckle parses s as a full (secrecy, integrity) label, treating an
// empty string as Public() — the zero value a caller omitting an optional
// label argument sends.
func parseBuckle(s string) (label.Buckle, error) {
	if s == "" {
		return label.Public(), nil
	}
	return label.Parse(s)
}

// parseComponent parses s as a bare privilege/declassify component,
// reusing Buckle's textual grammar with a throwaway integrity side (no
// syscall field budget remains to carry components as their own wire type;
// spec.md section 6 only defines the "S , I" textual form).
func parseComponent(s string) (label.Component, error) {
	if s == "" {
		return label.True(), nil
	}
	b, err := label.Parse(s)
	if err != nil {
		return label.DCFormula{}, err
	}
	return b.Secrecy, nil
}

func componentString(c label.Component) string {
	return label.New(c, label.True()).String()
}

func (p *Processor) requirePrivileged() error {
	if !label.CanDelegate(p.task.Privilege, rootPrivilege) {
		return objstore.ErrCannotDelegate
	}
	return nil
}

func (p *Processor) allocFd() uint64 {
	p.nextFd++
	return p.nextFd
}

// --- filesystem syscalls (spec.md section 4.3) ---

func (p *Processor) fsRead(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindFile {
		return failure(objstore.ErrNotAFile.Error())
	}
	data, err := p.graph.ReadFile(p.task, entry.UID)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: data}
}

func (p *Processor) fsWrite(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindFile {
		return failure(objstore.ErrNotAFile.Error())
	}
	if err := p.graph.WriteFile(p.task, entry.UID, sc.Data); err != nil {
		return failure(err.Error())
	}
	return ok()
}

func (p *Processor) fsList(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindDirectory {
		return failure(objstore.ErrNotADir.Error())
	}
	names, err := p.graph.List(p.task, entry.UID)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Names: names}
}

func (p *Processor) fsFacetedList(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindFacetedDirectory {
		return failure(objstore.ErrNotADir.Error())
	}
	clearance, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	facets, err := p.graph.ListFacets(p.task, entry.UID, clearance)
	if err != nil {
		return failure(err.Error())
	}
	names := make([]string, len(facets))
	for i, f := range facets {
		names[i] = f.String()
	}
	return &wire.Response{Success: true, Names: names}
}

func (p *Processor) fsCreateDir(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	uid, err := p.graph.CreateDirectory(l)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindDirectory, UID: uid})
}

func (p *Processor) fsCreateFile(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	uid, err := p.graph.CreateFile(l)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindFile, UID: uid})
}

func (p *Processor) fsCreateFacetedDir(sc *wire.Syscall) *wire.Response {
	uid, err := p.graph.CreateFacetedDirectory()
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindFacetedDirectory, UID: uid})
}

func (p *Processor) fsCreateGate(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	priv, err := parseComponent(sc.Policy)
	if err != nil {
		return failure(err.Error())
	}
	clearance, err := parseBuckle(sc.BaseDir)
	if err != nil {
		return failure(err.Error())
	}
	declassify, err := parseComponent(sc.Suffix)
	if err != nil {
		return failure(err.Error())
	}
	gate := objstore.Gate{
		Kind:                      objstore.GateDirect,
		Privilege:                 priv,
		InvokerIntegrityClearance: clearance,
		Declassify:                declassify,
		Function:                  sc.Name,
	}
	uid, err := p.graph.CreateGate(p.task, l, gate, p.task.Privilege)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindGate, UID: uid})
}

func (p *Processor) fsCreateRedirectGate(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	priv, err := parseComponent(sc.Policy)
	if err != nil {
		return failure(err.Error())
	}
	clearance, err := parseBuckle(sc.BaseDir)
	if err != nil {
		return failure(err.Error())
	}
	declassify, err := parseComponent(sc.Suffix)
	if err != nil {
		return failure(err.Error())
	}
	nextPath, err := p.parsePath(sc.Route)
	if err != nil {
		return failure(err.Error())
	}
	nextEntry, err := p.resolver.Resolve(p.task, nextPath)
	if err != nil {
		return failure(err.Error())
	}
	if nextEntry.Kind != objstore.KindGate {
		return failure(objstore.ErrNotAGate.Error())
	}
	gate := objstore.Gate{
		Kind:                      objstore.GateRedirect,
		Privilege:                 priv,
		InvokerIntegrityClearance: clearance,
		Declassify:                declassify,
		NextGate:                  nextEntry.UID,
	}
	uid, err := p.graph.CreateGate(p.task, l, gate, p.task.Privilege)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindGate, UID: uid})
}

func (p *Processor) fsCreateService(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	clearance, err := parseBuckle(sc.BaseDir)
	if err != nil {
		return failure(err.Error())
	}
	taint, err := parseBuckle(sc.Suffix)
	if err != nil {
		return failure(err.Error())
	}
	svc := objstore.Service{
		URL:                       sc.Route,
		Verb:                      sc.Verb,
		InvokerIntegrityClearance: clearance,
		Taint:                     taint,
	}
	uid, err := p.graph.CreateService(p.task, l, svc)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindService, UID: uid})
}

func (p *Processor) fsCreateBlobByName(sc *wire.Syscall) *wire.Response {
	l, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	uid, err := p.graph.CreateBlob(l, sc.BlobName)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindBlob, UID: uid})
}

func (p *Processor) fsDelete(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	parentUID, name, err := p.resolver.ResolveParent(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if err := p.graph.Unlink(p.task, parentUID, name); err != nil {
		return failure(err.Error())
	}
	return ok()
}

// linkNewEntry resolves rawPath's parent directory and links entry under
// its final component, the shared tail of every Fs*Create* syscall.
func (p *Processor) linkNewEntry(rawPath string, entry objstore.DirEntry) *wire.Response {
	path, err := p.parsePath(rawPath)
	if err != nil {
		return failure(err.Error())
	}
	parentUID, name, err := p.resolver.ResolveParent(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if err := p.graph.Link(p.task, parentUID, name, entry); err != nil {
		return failure(err.Error())
	}
	return ok()
}

// --- raw KV syscalls: privileged escape hatch onto reserved key prefixes
// (spec.md section 4.3) ---

func (p *Processor) readDir(sc *wire.Syscall) *wire.Response {
	return p.rawGet(sc)
}

func (p *Processor) readKey(sc *wire.Syscall) *wire.Response {
	return p.rawGet(sc)
}

func (p *Processor) rawGet(sc *wire.Syscall) *wire.Response {
	if err := p.requirePrivileged(); err != nil {
		return failure(err.Error())
	}
	raw, err := p.store.Get([]byte(sc.Path))
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: raw}
}

func (p *Processor) writeKey(sc *wire.Syscall) *wire.Response {
	if err := p.requirePrivileged(); err != nil {
		return failure(err.Error())
	}
	if err := p.store.Put([]byte(sc.Path), sc.Data); err != nil {
		return failure(err.Error())
	}
	return ok()
}

// --- label arithmetic syscalls (spec.md section 4.3) ---

func (p *Processor) buckleParse(sc *wire.Syscall) *wire.Response {
	b, err := label.Parse(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Label: b.String()}
}

func (p *Processor) getCurrentLabel(_ *wire.Syscall) *wire.Response {
	return &wire.Response{Success: true, Label: p.task.CurrentLabel.String()}
}

func (p *Processor) taintWithLabel(sc *wire.Syscall) *wire.Response {
	l, err := label.Parse(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	if err := p.task.Taint(l); err != nil {
		return failure(err.Error())
	}
	return ok()
}

func (p *Processor) declassify(sc *wire.Syscall) *wire.Response {
	target, err := parseComponent(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	if err := p.task.Declassify(target); err != nil {
		return failure(err.Error())
	}
	return ok()
}

func (p *Processor) subPrivilege(sc *wire.Syscall) *wire.Response {
	suffix, err := parseComponent(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	sub, err := p.task.SubPrivilege(suffix)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Label: componentString(sub)}
}

// --- invocation syscalls (spec.md section 4.3) ---

func (p *Processor) invokeGate(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindGate {
		return failure(objstore.ErrNotAGate.Error())
	}
	resolved, err := p.graph.ResolveGate(p.task, entry.UID)
	if err != nil {
		return failure(err.Error())
	}
	if !p.task.CurrentLabel.FlowsTo(resolved.InvokerIntegrityClearance) {
		return failure(objstore.ErrClearance.Error())
	}
	result, err := p.invoker.Invoke(resolved.Function, sc.Payload, p.task.CurrentLabel, resolved.Privilege, p.task.Clearance)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: result}
}

func (p *Processor) invokeFunction(sc *wire.Syscall) *wire.Response {
	if err := p.requirePrivileged(); err != nil {
		return failure(err.Error())
	}
	result, err := p.invoker.Invoke(sc.Name, sc.Payload, p.task.CurrentLabel, p.task.Privilege, p.task.Clearance)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: result}
}

func (p *Processor) invokeService(sc *wire.Syscall) *wire.Response {
	path, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	entry, err := p.resolver.Resolve(p.task, path)
	if err != nil {
		return failure(err.Error())
	}
	if entry.Kind != objstore.KindService {
		return failure(objstore.ErrNotAService.Error())
	}
	svc, err := p.graph.GetService(entry.UID)
	if err != nil {
		return failure(err.Error())
	}
	if err := p.task.Unlabel(svc.Label); err != nil {
		return failure(err.Error())
	}
	resp, err := p.github.InvokeService(p.task, svc.Payload, sc.Body)
	if err != nil {
		return failure(err.Error())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: data}
}

func (p *Processor) githubRest(sc *wire.Syscall) *wire.Response {
	resp, err := p.github.GithubRest(p.task, githubapi.Verb(sc.Verb), sc.Route, sc.Body)
	if err != nil {
		return failure(err.Error())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(err.Error())
	}
	return &wire.Response{Success: true, Payload: data}
}

func (p *Processor) dupGate(sc *wire.Syscall) *wire.Response {
	srcPath, err := p.parsePath(sc.Path)
	if err != nil {
		return failure(err.Error())
	}
	srcEntry, err := p.resolver.Resolve(p.task, srcPath)
	if err != nil {
		return failure(err.Error())
	}
	if srcEntry.Kind != objstore.KindGate {
		return failure(objstore.ErrNotAGate.Error())
	}
	newLabel, err := parseBuckle(sc.Label)
	if err != nil {
		return failure(err.Error())
	}
	newUID, err := p.graph.DupGate(p.task, srcEntry.UID, newLabel)
	if err != nil {
		return failure(err.Error())
	}
	return p.linkNewEntry(sc.Suffix, objstore.DirEntry{Kind: objstore.KindGate, UID: newUID})
}

// --- blob FD syscalls (spec.md section 4.3; NEW epoch-guarded FD table
// supplement recorded in DESIGN.md) ---

func (p *Processor) createBlob(_ *wire.Syscall) *wire.Response {
	nb, err := p.blobs.Create()
	if err != nil {
		return failure(err.Error())
	}
	fd := p.allocFd()
	p.fds[fd] = &blobFd{epoch: p.epoch, write: nb}
	return &wire.Response{Success: true, Fd: fd}
}

func (p *Processor) writeBlob(sc *wire.Syscall) *wire.Response {
	entry, ok := p.lookupFd(sc.Fd)
	if !ok || entry.write == nil {
		return failure(ErrInvalidFd.Error())
	}
	if _, err := entry.write.Write(sc.Data); err != nil {
		return failure(err.Error())
	}
	return ok()
}

func (p *Processor) finalizeBlob(sc *wire.Syscall) *wire.Response {
	entry, found := p.lookupFd(sc.Fd)
	if !found || entry.write == nil {
		return failure(ErrInvalidFd.Error())
	}
	blob, err := p.blobs.Save(entry.write)
	if err != nil {
		return failure(err.Error())
	}
	delete(p.fds, sc.Fd)
	if sc.ToBlob {
		l, err := parseBuckle(sc.Label)
		if err != nil {
			return failure(err.Error())
		}
		uid, err := p.graph.CreateBlob(l, blob.Name)
		if err != nil {
			return failure(err.Error())
		}
		if resp := p.linkNewEntry(sc.Path, objstore.DirEntry{Kind: objstore.KindBlob, UID: uid}); !resp.Success {
			return resp
		}
	}
	return &wire.Response{Success: true, Message: blob.Name}
}

func (p *Processor) openBlob(sc *wire.Syscall) *wire.Response {
	name := sc.BlobName
	if name == "" && sc.Path != "" {
		path, err := p.parsePath(sc.Path)
		if err != nil {
			return failure(err.Error())
		}
		entry, err := p.resolver.Resolve(p.task, path)
		if err != nil {
			return failure(err.Error())
		}
		if entry.Kind != objstore.KindBlob {
			return failure(objstore.ErrNotABlob.Error())
		}
		labeled, err := p.graph.GetBlob(entry.UID)
		if err != nil {
			return failure(err.Error())
		}
		if err := p.task.Unlabel(labeled.Label); err != nil {
			return failure(err.Error())
		}
		name = labeled.Payload.Name
	}
	blob, err := p.blobs.Open(name)
	if err != nil {
		return failure(err.Error())
	}
	fd := p.allocFd()
	p.fds[fd] = &blobFd{epoch: p.epoch, read: blob}
	return &wire.Response{Success: true, Fd: fd}
}

func (p *Processor) readBlob(sc *wire.Syscall) *wire.Response {
	entry, found := p.lookupFd(sc.Fd)
	if !found || entry.read == nil {
		return failure(ErrInvalidFd.Error())
	}
	length := defaultReadBlobChunk
	if sc.Policy != "" {
		if n, err := strconv.Atoi(sc.Policy); err == nil && n > 0 {
			length = n
		}
	}
	buf := make([]byte, length)
	n, err := entry.read.ReadAt(buf, entry.offset)
	entry.offset += int64(n)
	if err != nil && err != io.EOF {
		return failure(err.Error())
	}
	resp := &wire.Response{Success: true, Payload: buf[:n]}
	if err == io.EOF {
		resp.Message = "EOF"
	}
	return resp
}

func (p *Processor) closeBlob(sc *wire.Syscall) *wire.Response {
	entry, found := p.lookupFd(sc.Fd)
	if !found {
		return failure(ErrInvalidFd.Error())
	}
	if entry.read != nil {
		if err := entry.read.Close(); err != nil {
			return failure(err.Error())
		}
	}
	delete(p.fds, sc.Fd)
	return ok()
}

func (p *Processor) lookupFd(fd uint64) (*blobFd, bool) {
	entry, found := p.fds[fd]
	if !found || entry.epoch != p.epoch {
		return nil, false
	}
	return entry, true
}
