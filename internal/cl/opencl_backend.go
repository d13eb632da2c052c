//go:build opencl
// +build opencl

package cl

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>

static const char* azimuth_cl_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_PROFILING_INFO_NOT_AVAILABLE: return "CL_PROFILING_INFO_NOT_AVAILABLE";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
	case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
	case CL_INVALID_EVENT: return "CL_INVALID_EVENT";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
	default: return "CL_UNKNOWN_ERROR";
	}
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/zap"
)

// openCLBackend drives real OpenCL devices through cgo. Built only with the
// "opencl" tag; without it newOpenCLBackend returns nil and callers fall
// back to the simulated backend.
type openCLBackend struct {
	logger *zap.Logger
}

func newOpenCLBackend(logger *zap.Logger) Backend {
	return &openCLBackend{logger: logger}
}

func (b *openCLBackend) Name() string { return "opencl" }

func (b *openCLBackend) IsAvailable() bool {
	var count C.cl_uint
	if C.clGetPlatformIDs(0, nil, &count) != C.CL_SUCCESS {
		return false
	}
	return count > 0
}

func (b *openCLBackend) CreateContext(opts ContextOptions) (Context, error) {
	device, info, err := selectDevice(opts)
	if err != nil {
		return nil, err
	}
	var status C.cl_int
	ctx := C.clCreateContext(nil, 1, &device, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateContext", status)
	}
	b.logger.Info("OpenCL context created",
		zap.String("device", info.Name),
		zap.String("vendor", info.Vendor),
		zap.Int64("global_memory", info.GlobalMemory))
	return &openCLContext{backend: b, context: ctx, device: device, info: info}, nil
}

type openCLContext struct {
	backend *openCLBackend
	context C.cl_context
	device  C.cl_device_id
	info    DeviceInfo
}

func (c *openCLContext) Device() DeviceInfo { return c.info }

func (c *openCLContext) CreateQueue(profiling bool) (Queue, error) {
	var props C.cl_command_queue_properties
	if profiling {
		props = C.CL_QUEUE_PROFILING_ENABLE
	}
	var status C.cl_int
	queue := C.clCreateCommandQueue(c.context, c.device, props, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateCommandQueue", status)
	}
	return &openCLQueue{queue: queue, profiling: profiling}, nil
}

func (c *openCLContext) CreateBuffer(flags MemFlag, size int64) (Buffer, error) {
	clFlags := C.cl_mem_flags(C.CL_MEM_READ_WRITE)
	if flags == MemReadOnly {
		clFlags = C.CL_MEM_READ_ONLY
	}
	var status C.cl_int
	mem := C.clCreateBuffer(c.context, clFlags, C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateBuffer", status)
	}
	return &openCLBuffer{mem: mem, size: size}, nil
}

func (c *openCLContext) CompileProgram(source string, options string) (Program, error) {
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cSource))
	length := C.size_t(len(source))

	var status C.cl_int
	program := C.clCreateProgramWithSource(c.context, 1, &cSource, &length, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateProgramWithSource", status)
	}

	cOptions := C.CString(options)
	defer C.free(unsafe.Pointer(cOptions))
	status = C.clBuildProgram(program, 1, &c.device, cOptions, nil, nil)
	if status != C.CL_SUCCESS {
		log := buildLog(program, c.device)
		C.clReleaseProgram(program)
		return nil, &CallError{Call: "clBuildProgram",
			Err: fmt.Errorf("%s: %s", C.GoString(C.azimuth_cl_error_string(status)), log)}
	}
	return &openCLProgram{program: program}, nil
}

func (c *openCLContext) Release() error {
	if c.context != nil {
		C.clReleaseContext(c.context)
		c.context = nil
	}
	return nil
}

type openCLBuffer struct {
	mem  C.cl_mem
	size int64
}

func (b *openCLBuffer) Size() int64 { return b.size }

func (b *openCLBuffer) Release() error {
	if b.mem != nil {
		C.clReleaseMemObject(b.mem)
		b.mem = nil
	}
	return nil
}

type openCLProgram struct {
	program C.cl_program
}

func (p *openCLProgram) CreateKernel(name string) (Kernel, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	var status C.cl_int
	kernel := C.clCreateKernel(p.program, cName, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateKernel", status)
	}
	return &openCLKernel{kernel: kernel, name: name}, nil
}

func (p *openCLProgram) Release() error {
	if p.program != nil {
		C.clReleaseProgram(p.program)
		p.program = nil
	}
	return nil
}

type openCLKernel struct {
	kernel C.cl_kernel
	name   string
}

func (k *openCLKernel) Name() string { return k.name }

func (k *openCLKernel) SetArg(index int, buf Buffer) error {
	ob, ok := buf.(*openCLBuffer)
	if !ok {
		return &CallError{Call: "clSetKernelArg", Err: fmt.Errorf("buffer is not an OpenCL buffer")}
	}
	status := C.clSetKernelArg(k.kernel, C.cl_uint(index),
		C.size_t(unsafe.Sizeof(ob.mem)), unsafe.Pointer(&ob.mem))
	if status != C.CL_SUCCESS {
		return clError("clSetKernelArg", status)
	}
	return nil
}

func (k *openCLKernel) Release() error {
	if k.kernel != nil {
		C.clReleaseKernel(k.kernel)
		k.kernel = nil
	}
	return nil
}

type openCLQueue struct {
	queue     C.cl_command_queue
	profiling bool
}

func (q *openCLQueue) Write(dst Buffer, data []byte) (Event, error) {
	ob, ok := dst.(*openCLBuffer)
	if !ok {
		return nil, &CallError{Call: "clEnqueueWriteBuffer", Err: fmt.Errorf("buffer is not an OpenCL buffer")}
	}
	var event C.cl_event
	status := C.clEnqueueWriteBuffer(q.queue, ob.mem, C.CL_TRUE, 0,
		C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, &event)
	if status != C.CL_SUCCESS {
		return nil, clError("clEnqueueWriteBuffer", status)
	}
	return &openCLEvent{event: event, profiling: q.profiling}, nil
}

func (q *openCLQueue) Read(src Buffer, data []byte) (Event, error) {
	ob, ok := src.(*openCLBuffer)
	if !ok {
		return nil, &CallError{Call: "clEnqueueReadBuffer", Err: fmt.Errorf("buffer is not an OpenCL buffer")}
	}
	var event C.cl_event
	status := C.clEnqueueReadBuffer(q.queue, ob.mem, C.CL_TRUE, 0,
		C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, &event)
	if status != C.CL_SUCCESS {
		return nil, clError("clEnqueueReadBuffer", status)
	}
	return &openCLEvent{event: event, profiling: q.profiling}, nil
}

func (q *openCLQueue) Run(k Kernel, global, local int) (Event, error) {
	ok2, ok := k.(*openCLKernel)
	if !ok {
		return nil, &CallError{Call: "clEnqueueNDRangeKernel", Err: fmt.Errorf("kernel is not an OpenCL kernel")}
	}
	wdim := [3]C.size_t{C.size_t(global), 1, 1}
	tdim := [3]C.size_t{C.size_t(local), 1, 1}
	var event C.cl_event
	status := C.clEnqueueNDRangeKernel(q.queue, ok2.kernel, 1, nil, &wdim[0], &tdim[0], 0, nil, &event)
	if status != C.CL_SUCCESS {
		return nil, clError("clEnqueueNDRangeKernel", status)
	}
	// The queue is driven in blocking mode; wait here so the caller sees
	// the same program-order semantics as the transfer calls.
	if status := C.clWaitForEvents(1, &event); status != C.CL_SUCCESS {
		C.clReleaseEvent(event)
		return nil, clError("clWaitForEvents", status)
	}
	return &openCLEvent{event: event, profiling: q.profiling}, nil
}

func (q *openCLQueue) Finish() error {
	if status := C.clFinish(q.queue); status != C.CL_SUCCESS {
		return clError("clFinish", status)
	}
	return nil
}

func (q *openCLQueue) Release() error {
	if q.queue != nil {
		C.clReleaseCommandQueue(q.queue)
		q.queue = nil
	}
	return nil
}

type openCLEvent struct {
	event     C.cl_event
	profiling bool
}

func (e *openCLEvent) Duration() (time.Duration, error) {
	if !e.profiling {
		return 0, nil
	}
	var start, end C.cl_ulong
	status := C.clGetEventProfilingInfo(e.event, C.CL_PROFILING_COMMAND_START,
		C.size_t(unsafe.Sizeof(start)), unsafe.Pointer(&start), nil)
	if status != C.CL_SUCCESS {
		return 0, clError("clGetEventProfilingInfo(start)", status)
	}
	status = C.clGetEventProfilingInfo(e.event, C.CL_PROFILING_COMMAND_END,
		C.size_t(unsafe.Sizeof(end)), unsafe.Pointer(&end), nil)
	if status != C.CL_SUCCESS {
		return 0, clError("clGetEventProfilingInfo(end)", status)
	}
	return time.Duration(uint64(end) - uint64(start)), nil
}

func (e *openCLEvent) Release() {
	if e.event != nil {
		C.clReleaseEvent(e.event)
		e.event = nil
	}
}

func selectDevice(opts ContextOptions) (C.cl_device_id, DeviceInfo, error) {
	var noDev C.cl_device_id

	var count C.cl_uint
	if status := C.clGetPlatformIDs(0, nil, &count); status != C.CL_SUCCESS {
		return noDev, DeviceInfo{}, clError("clGetPlatformIDs", status)
	}
	if count == 0 || opts.PlatformID >= int(count) {
		return noDev, DeviceInfo{}, fmt.Errorf("no OpenCL platform %d (found %d)", opts.PlatformID, count)
	}
	platforms := make([]C.cl_platform_id, int(count))
	if status := C.clGetPlatformIDs(count, &platforms[0], nil); status != C.CL_SUCCESS {
		return noDev, DeviceInfo{}, clError("clGetPlatformIDs", status)
	}
	platform := platforms[opts.PlatformID]

	devType := C.cl_device_type(C.CL_DEVICE_TYPE_ALL)
	switch opts.DeviceType {
	case "gpu":
		devType = C.CL_DEVICE_TYPE_GPU
	case "cpu":
		devType = C.CL_DEVICE_TYPE_CPU
	}
	if status := C.clGetDeviceIDs(platform, devType, 0, nil, &count); status != C.CL_SUCCESS {
		return noDev, DeviceInfo{}, clError("clGetDeviceIDs", status)
	}
	if count == 0 || opts.DeviceID >= int(count) {
		return noDev, DeviceInfo{}, fmt.Errorf("no OpenCL device %d on platform %d", opts.DeviceID, opts.PlatformID)
	}
	devices := make([]C.cl_device_id, int(count))
	if status := C.clGetDeviceIDs(platform, devType, count, &devices[0], nil); status != C.CL_SUCCESS {
		return noDev, DeviceInfo{}, clError("clGetDeviceIDs", status)
	}
	device := devices[opts.DeviceID]

	info, err := queryDevice(device)
	if err != nil {
		return noDev, DeviceInfo{}, err
	}
	return device, info, nil
}

func queryDevice(device C.cl_device_id) (DeviceInfo, error) {
	name, err := deviceString(device, C.CL_DEVICE_NAME)
	if err != nil {
		return DeviceInfo{}, err
	}
	vendor, err := deviceString(device, C.CL_DEVICE_VENDOR)
	if err != nil {
		return DeviceInfo{}, err
	}
	version, err := deviceString(device, C.CL_DEVICE_VERSION)
	if err != nil {
		return DeviceInfo{}, err
	}

	var mem C.cl_ulong
	status := C.clGetDeviceInfo(device, C.CL_DEVICE_GLOBAL_MEM_SIZE,
		C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clError("clGetDeviceInfo(memory)", status)
	}
	var units C.cl_uint
	status = C.clGetDeviceInfo(device, C.CL_DEVICE_MAX_COMPUTE_UNITS,
		C.size_t(unsafe.Sizeof(units)), unsafe.Pointer(&units), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clError("clGetDeviceInfo(units)", status)
	}
	var devType C.cl_device_type
	status = C.clGetDeviceInfo(device, C.CL_DEVICE_TYPE,
		C.size_t(unsafe.Sizeof(devType)), unsafe.Pointer(&devType), nil)
	if status != C.CL_SUCCESS {
		return DeviceInfo{}, clError("clGetDeviceInfo(type)", status)
	}
	typeName := "unknown"
	switch {
	case devType&C.CL_DEVICE_TYPE_GPU != 0:
		typeName = "gpu"
	case devType&C.CL_DEVICE_TYPE_CPU != 0:
		typeName = "cpu"
	case devType&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		typeName = "accelerator"
	}

	return DeviceInfo{
		Name:            name,
		Vendor:          vendor,
		Version:         version,
		Type:            typeName,
		GlobalMemory:    int64(mem),
		MaxComputeUnits: int(units),
	}, nil
}

func deviceString(device C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	if status := C.clGetDeviceInfo(device, param, 0, nil, &size); status != C.CL_SUCCESS {
		return "", clError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	if status := C.clGetDeviceInfo(device, param, size, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		return "", clError("clGetDeviceInfo(value)", status)
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

func buildLog(program C.cl_program, device C.cl_device_id) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return "(no build log)"
	}
	buf := make([]byte, int(size))
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return "(no build log)"
	}
	return string(buf)
}

func clError(call string, status C.cl_int) error {
	return &CallError{Call: call,
		Err: fmt.Errorf("%s (%d)", C.GoString(C.azimuth_cl_error_string(status)), int(status))}
}
