package light

import (
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// CullScreen runs a full CPU light culling pass over every tile of the screen,
// mirroring the GPU kernel's output buffer layout. It is the host-side
// reference for the tile culler: validation, headless runs, and tests all go
// through this path. Tile rows are culled in parallel on the provided worker
// pool; pass nil to run serially.
//
// Parameters:
//   - invProj: the camera's inverse projection matrix (column-major, 16 floats)
//   - view: the camera view matrix (column-major, 16 floats)
//   - lights: the GPU light array in buffer order
//   - screenWidth, screenHeight: screen dimensions in pixels
//   - pool: worker pool for parallel row culling, or nil for serial execution
//
// Returns:
//   - CullResult: per-tile counts and index lists matching the GPU buffer layout
func CullScreen(invProj, view []float32, lights []GPULight, screenWidth, screenHeight int, pool worker.DynamicWorkerPool) CullResult {
	tileCountX, tileCountY := TileCounts(screenWidth, screenHeight)
	result := CullResult{
		TileCountX: tileCountX,
		TileCountY: tileCountY,
		Counts:     make([]uint32, tileCountX*tileCountY),
		Indices:    make([]uint32, tileCountX*tileCountY*MaxLightsPerTile),
	}

	// With no lights every tile's count stays zero; skip the per-tile loop.
	if len(lights) == 0 {
		return result
	}

	cullRow := func(tileY uint32) {
		for tileX := uint32(0); tileX < tileCountX; tileX++ {
			cone := BuildTileCone(invProj, tileX, tileY, uint32(screenWidth), uint32(screenHeight))
			hits := CullTile(cone, view, lights)

			tile := tileY*tileCountX + tileX
			result.Counts[tile] = uint32(len(hits))
			copy(result.Indices[tile*MaxLightsPerTile:], hits)
		}
	}

	if pool == nil {
		for tileY := uint32(0); tileY < tileCountY; tileY++ {
			cullRow(tileY)
		}
		return result
	}

	// One task per tile row. Rows write to disjoint slices of the shared
	// buffers, so no locking is needed; the WaitGroup is the frame barrier.
	var wg sync.WaitGroup
	for tileY := uint32(0); tileY < tileCountY; tileY++ {
		wg.Add(1)
		row := tileY
		pool.SubmitTask(worker.Task{
			ID: int(row),
			Do: func() (any, error) {
				defer wg.Done()
				cullRow(row)
				return nil, nil
			},
		})
	}
	wg.Wait()

	return result
}
