package dashboard

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>MoodVision</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">MoodVision Dashboard</div>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div class="kpis">
            <div class="kpi">
                <div class="kpi-label">Total Scans</div>
                <div class="kpi-value" id="kpi-total">0</div>
            </div>
            <div class="kpi">
                <div class="kpi-label">Dominant Mood</div>
                <div class="kpi-value" id="kpi-dominant">WAITING...</div>
            </div>
            <div class="kpi">
                <div class="kpi-label">Vibe</div>
                <div class="kpi-value" id="kpi-vibe">Loading...</div>
            </div>
        </div>

        <div class="grid">
            <div class="panel">
                <div class="panel-head">
                    <h2>Live Feed</h2>
                    <div class="view-toggle">
                        <button type="button" id="btn-webrtc" class="active">WebRTC</button>
                        <button type="button" id="btn-mjpeg">MJPEG</button>
                    </div>
                </div>
                <div id="webrtc-view">
                    <video id="webrtc-video" autoplay playsinline muted></video>
                    <div id="webrtc-status">● Connecting...</div>
                </div>
                <div id="mjpeg-view" style="display:none;">
                    <img id="stream" alt="Annotated camera feed">
                </div>
                <div class="controls">
                    <button type="button" id="btn-record">Start Recording</button>
                    <span id="record-status"></span>
                </div>
            </div>

            <div class="panel">
                <div class="panel-head">
                    <h2>Mood Distribution</h2>
                    <label class="toggle">
                        <input type="checkbox" id="live-sync" checked>
                        Live Sync
                    </label>
                </div>
                <img id="chart" src="/api/chart.png" alt="Emotion counts">
                <table class="counts" id="counts"></table>
                <div class="controls">
                    <button type="button" id="btn-refresh">Refresh</button>
                    <button type="button" id="btn-reset" class="danger">Reset Data</button>
                </div>
            </div>
        </div>
    </div>
    <script src="/assets/dashboard.js" defer></script>
</body>
</html>
`
