package vault

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hutchvm/hutch/internal/catalog"
	"github.com/hutchvm/hutch/internal/download"
	"github.com/hutchvm/hutch/internal/logging"
	"github.com/hutchvm/hutch/internal/models"
)

// Vault is a two-tier, content-addressed image cache. The prepared table
// maps catalog ids to artifacts shared across instances; the instance
// table maps instance names to their private copies. Both tables are
// journaled in the cache root and reloaded on construction.
//
// The vault is single-threaded: callers must serialize FetchImage and
// Remove. The catalog host and downloader are borrowed collaborators.
type Vault struct {
	Logger *slog.Logger

	host       catalog.Host
	downloader download.Downloader
	cacheDir   string

	preparedRecords map[string]VaultRecord
	instanceRecords map[string]VaultRecord
}

// New constructs a vault over cacheDir, creating the directory if needed
// and loading both journals. Corrupt or missing journals start empty.
func New(host catalog.Host, downloader download.Downloader, cacheDir string, logger *slog.Logger) (*Vault, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, &LayoutError{Path: cacheDir, Err: err}
	}

	return &Vault{
		Logger:          logger,
		host:            host,
		downloader:      downloader,
		cacheDir:        cacheDir,
		preparedRecords: loadRecords(filepath.Join(cacheDir, imageRecordsFilename)),
		instanceRecords: loadRecords(filepath.Join(cacheDir, instanceRecordsFilename)),
	}, nil
}

// FetchImage returns the instance copy of the image answering query,
// downloading and preparing it on first use. An instance name, once
// recorded, pins that instance's view of its image even if the catalog
// has since moved on.
func (v *Vault) FetchImage(ctx context.Context, fetchType models.FetchType, query models.Query, prepare models.Prepare, monitor models.ProgressMonitor) (models.VMImage, error) {
	logger := v.logger().With("instance", query.Name, "release", query.Release)

	if record, ok := v.instanceRecords[query.Name]; ok {
		logger.Debug("instance record hit")
		return record.Image, nil
	}

	info, err := v.host.InfoFor(ctx, query)
	if err != nil {
		return models.VMImage{}, err
	}
	logger = logger.With("id", info.ID)

	if record, ok := v.preparedRecords[info.ID]; ok {
		logger.Debug("prepared record hit")
		image, err := v.instanceImageFrom(query.Name, record.Image)
		if err != nil {
			return models.VMImage{}, err
		}
		v.instanceRecords[query.Name] = VaultRecord{Image: image, Query: query}
		if err := v.persistInstanceRecords(); err != nil {
			return models.VMImage{}, err
		}
		return image, nil
	}

	logger.Info("fetching image", "version", info.Version)

	imageDir, err := makeDir(v.cacheDir, info.Release+"-"+info.Version)
	if err != nil {
		return models.VMImage{}, err
	}

	// Guards cover the image directory and every file downloaded into it.
	// They stay armed until both records are published; any earlier return
	// sweeps the partial artifacts away.
	guards := []*tentative{tentativeDir(imageDir)}
	defer func() {
		for _, guard := range guards {
			guard.Cleanup()
		}
	}()

	source := models.VMImage{
		ID:        info.ID,
		ImagePath: filepath.Join(imageDir, filenameFor(info.ImageLocation)),
	}
	guards = append(guards, tentativeFile(source.ImagePath))

	if err := v.downloader.DownloadTo(ctx, info.ImageLocation, source.ImagePath, monitor); err != nil {
		return models.VMImage{}, err
	}

	if fetchType == models.FetchImageKernelAndInitrd {
		source.KernelPath = filepath.Join(imageDir, filenameFor(info.KernelLocation))
		source.InitrdPath = filepath.Join(imageDir, filenameFor(info.InitrdLocation))
		guards = append(guards, tentativeFile(source.KernelPath), tentativeFile(source.InitrdPath))

		if err := v.downloader.DownloadTo(ctx, info.KernelLocation, source.KernelPath, monitor); err != nil {
			return models.VMImage{}, err
		}
		if err := v.downloader.DownloadTo(ctx, info.InitrdLocation, source.InitrdPath, monitor); err != nil {
			return models.VMImage{}, err
		}
	}

	prepared, err := prepare(source)
	if err != nil {
		return models.VMImage{}, &PrepareError{ID: info.ID, Err: err}
	}
	prepared.ID = info.ID

	v.removeSourceImages(source, prepared)

	instance, err := v.instanceImageFrom(query.Name, prepared)
	if err != nil {
		return models.VMImage{}, err
	}

	v.preparedRecords[info.ID] = VaultRecord{Image: prepared, Query: query}
	v.instanceRecords[query.Name] = VaultRecord{Image: instance, Query: query}
	for _, guard := range guards {
		guard.Release()
	}

	v.expungeStaleRecords(ctx)

	if err := v.persistImageRecords(); err != nil {
		return models.VMImage{}, err
	}
	if err := v.persistInstanceRecords(); err != nil {
		return models.VMImage{}, err
	}

	logger.Info("image fetched", "path", instance.ImagePath)
	return instance, nil
}

// Remove deletes an instance's artifact copies, its directory and its
// record. Removing an unknown name is a no-op.
func (v *Vault) Remove(name string) error {
	record, ok := v.instanceRecords[name]
	if !ok {
		return nil
	}

	if err := deleteFile(record.Image.ImagePath); err != nil {
		return err
	}
	if err := deleteFile(record.Image.KernelPath); err != nil {
		return err
	}
	if err := deleteFile(record.Image.InitrdPath); err != nil {
		return err
	}

	dir := filepath.Join(v.cacheDir, name)
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &LayoutError{Path: dir, Err: err}
	}

	delete(v.instanceRecords, name)
	v.logger().Info("instance removed", "instance", name)
	return v.persistInstanceRecords()
}

// instanceImageFrom copies the prepared artifact into a fresh per-instance
// directory. The copies are private to the instance; downstream mutation
// does not touch the prepared artifact.
func (v *Vault) instanceImageFrom(name string, prepared models.VMImage) (models.VMImage, error) {
	dir, err := makeInstanceDir(v.cacheDir, name)
	if err != nil {
		return models.VMImage{}, err
	}
	guard := tentativeDir(dir)
	defer guard.Cleanup()

	imagePath, err := copyFile(prepared.ImagePath, dir)
	if err != nil {
		return models.VMImage{}, err
	}
	kernelPath, err := copyFile(prepared.KernelPath, dir)
	if err != nil {
		return models.VMImage{}, err
	}
	initrdPath, err := copyFile(prepared.InitrdPath, dir)
	if err != nil {
		return models.VMImage{}, err
	}

	guard.Release()
	return models.VMImage{
		ImagePath:  imagePath,
		KernelPath: kernelPath,
		InitrdPath: initrdPath,
		ID:         prepared.ID,
	}, nil
}

// removeSourceImages deletes source files the prepare transform
// superseded. A field whose path is unchanged was adopted in place and is
// retained. Deletion failures are logged, not surfaced: the prepared
// artifact is already complete.
func (v *Vault) removeSourceImages(source, prepared models.VMImage) {
	for _, pair := range [][2]string{
		{source.ImagePath, prepared.ImagePath},
		{source.KernelPath, prepared.KernelPath},
		{source.InitrdPath, prepared.InitrdPath},
	} {
		if pair[0] == pair[1] {
			continue
		}
		if err := deleteFile(pair[0]); err != nil {
			v.logger().Warn("leaving superseded source file behind", "path", pair[0], "error", err)
		}
	}
}

// expungeStaleRecords drops prepared records whose catalog id no longer
// matches what the catalog reports for their query. Catalog failures skip
// the record: an unreachable catalog must not fail a fetch that already
// succeeded. Disk artifacts of stale records are left in place.
func (v *Vault) expungeStaleRecords(ctx context.Context) {
	var stale []string
	for key, record := range v.preparedRecords {
		info, err := v.host.InfoFor(ctx, record.Query)
		if err != nil {
			v.logger().Warn("skipping staleness check", "id", key, "error", err)
			continue
		}
		if info.ID != key {
			stale = append(stale, key)
		}
	}

	for _, key := range stale {
		delete(v.preparedRecords, key)
		v.logger().Info("expunged stale image record", "id", key)
	}
}

func (v *Vault) persistImageRecords() error {
	return persistRecords(filepath.Join(v.cacheDir, imageRecordsFilename), v.preparedRecords)
}

func (v *Vault) persistInstanceRecords() error {
	return persistRecords(filepath.Join(v.cacheDir, instanceRecordsFilename), v.instanceRecords)
}

func (v *Vault) logger() *slog.Logger {
	return logging.Ensure(v.Logger)
}
